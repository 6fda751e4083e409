// Package audio handles capture sources, chunk encoding, and format
// conversion. It packages fixed-duration slices of the capture buffer into
// sequence-numbered chunks and encodes PCM audio to WAV for the
// transcription boundary.
package audio
