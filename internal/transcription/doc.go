// Package transcription provides the HTTP client that ships closed
// utterance segments to the transcription API as WAV uploads, with
// retry, concurrency limiting and result callbacks.
package transcription
