package plugin

import (
	"context"
	"time"

	"github.com/mattjoyce/hookrelay/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/mattjoyce/hookrelay/internal/plugin Runner

// Runner executes one request against a plugin entrypoint and returns its
// decoded response. Implementations must stop the process once timeout
// elapses or ctx is done.
type Runner interface {
	Run(ctx context.Context, entrypoint string, req *protocol.Request, timeout time.Duration) (*protocol.Response, error)
}
