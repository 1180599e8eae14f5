// Package live holds PCM helpers shared by the microphone adapters: format arithmetic,
// level metering, a capped recording buffer and WAV framing.
package live
