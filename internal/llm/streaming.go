package llm

import (
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// streamingOn is the process-wide streaming toggle. When off, providers
// drain their streams internally and callers see only final chunks.
var streamingOn atomic.Bool

func init() {
	streamingOn.Store(autoDetectStreaming())
}

// SetStreaming overrides the streaming toggle, normally from the
// --streaming / --no-streaming CLI flags.
func SetStreaming(on bool) {
	streamingOn.Store(on)
}

// StreamingEnabled reports the current toggle state.
func StreamingEnabled() bool {
	return streamingOn.Load()
}

// autoDetectStreaming defaults streaming on when stdout is a terminal.
func autoDetectStreaming() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
