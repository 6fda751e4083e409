// Package segment accumulates audio chunks into speaker-attributed
// utterance segments. It decides where one utterance ends and the next
// begins using silence timeouts and a maximum duration cap, independent of
// the fixed chunk size produced upstream.
package segment
