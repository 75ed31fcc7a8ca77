package lifecycle

import "context"

// Phase orders shutdown work. Hooks of one phase run concurrently and the
// next phase starts only when all of them have returned.
type Phase int

const (
	// PhaseStop stops accepting work: HTTP server, bot updates, job workers.
	PhaseStop Phase = iota
	// PhaseRelease closes what the stopped components were using.
	PhaseRelease
)

func (p Phase) String() string {
	switch p {
	case PhaseStop:
		return "stop"
	case PhaseRelease:
		return "release"
	default:
		return "unknown"
	}
}

type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
