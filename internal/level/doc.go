// Package level computes a normalized audio activity signal from raw PCM
// frames. The signal drives both UI level feedback and the silence
// classification used by utterance segmentation.
package level
