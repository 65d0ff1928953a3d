package cluster

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakerbuild/daemon/internal/logging"
	"github.com/sakerbuild/daemon/internal/rpctransport"
)

// Backoff schedule constants from spec.md §4.E: "initial sleep 5 s,
// additive step +5 s after each failed attempt, capped at 30 s; reset to
// 1 s after a successful connect".
const (
	initialBackoff = 5 * time.Second
	backoffStep    = 5 * time.Second
	maxBackoff     = 30 * time.Second
	resetBackoff   = 1 * time.Second
)

// StateChecker reports whether the owning daemon is still STARTED;
// Reconnector consults it at the top of every iteration (spec.md §4.E.1)
// and exits for good once it returns false.
type StateChecker func() bool

// Reconnector is bound to one remote coordinator address (spec.md §4.E). It
// is grounded directly on pkg/synchronization/controller.go's run loop: the
// connect/sleep/retry shape and the
// `select { case <-ctx.Done(): return; case <-time.After(wait): }` idiom
// generalize 1:1 from that loop to this component's specific backoff
// schedule.
type Reconnector struct {
	address       string
	dial          rpctransport.Dialer
	environmentID uuid.UUID
	invokerFactory *InvokerFactory
	isStarted     StateChecker
	logger        *logging.Logger

	wg sync.WaitGroup
}

// NewReconnector constructs a reconnector for address. dial is the socket
// factory this daemon uses to establish the outbound connection
// (spec.md §4.E.2: "Dial the remote via the configured socket factory").
func NewReconnector(address string, dial rpctransport.Dialer, environmentID uuid.UUID, invokerFactory *InvokerFactory, isStarted StateChecker, logger *logging.Logger) *Reconnector {
	return &Reconnector{
		address:        address,
		dial:           dial,
		environmentID:  environmentID,
		invokerFactory: invokerFactory,
		isStarted:      isStarted,
		logger:         logger.Sublogger(address),
	}
}

// Start launches the reconnect loop in a background goroutine. The loop
// exits when ctx is cancelled (spec.md §4.D.2: "close() ... interrupts the
// cluster-client thread group") or when isStarted reports false.
func (r *Reconnector) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Wait blocks until the reconnect loop has exited, matching spec.md §8
// invariant 8: "after close(), every reconnector goroutine/task terminates
// within a bounded time after its current sleep or I/O attempt."
func (r *Reconnector) Wait() {
	r.wg.Wait()
}

func (r *Reconnector) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil || !r.isStarted() {
			return
		}

		if connected, err := r.attempt(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warnf("cluster connection attempt failed: %v", err)
			if connected {
				backoff = resetBackoff
			}
		} else {
			backoff = resetBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff += backoffStep
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// attempt performs one full connect/register/serve cycle (spec.md §4.E.2-7).
// connected reports whether the dial itself succeeded; after a successful
// dial run resets the backoff to 1 s even if a later step fails. attempt
// returns a nil error once the remote side has closed the connection
// normally, so that run reconnects immediately. Cancelling ctx closes the
// connection, which unblocks any pending Send or Receive.
func (r *Reconnector) attempt(ctx context.Context) (connected bool, err error) {
	conn, err := rpctransport.Open(ctx, r.dial)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	stopClosing := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClosing()

	if err := conn.Send(&registerMessage{
		EnvironmentID: r.environmentID,
		Description:   "sakerbuild daemon cluster worker",
	}); err != nil {
		return true, err
	}

	var ack registerAckMessage
	if err := conn.Receive(&ack); err != nil {
		return true, err
	}
	r.logger.Infof("registered as cluster worker (registration id %s)", ack.RegistrationID)

	if err := r.serve(ctx, conn); err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return true, err
	}
	return true, nil
}

// serve answers createTaskInvokerRequest messages from the coordinator
// until the connection closes or ctx is cancelled (spec.md §4.F: the
// factory "answers the remote coordinator's createTaskInvoker(...)
// request").
func (r *Reconnector) serve(ctx context.Context, conn *rpctransport.Connection) error {
	for {
		var request createTaskInvokerRequest
		if err := conn.Receive(&request); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		execCtx := requestToExecutionContext(request)
		reply := createTaskInvokerReply{}

		invoker, err := r.invokerFactory.CreateTaskInvoker(ctx, execCtx)
		if err != nil {
			reply.Error = err.Error()
		} else if err := invoker.Run(ctx); err != nil {
			reply.Error = err.Error()
		}

		if err := conn.Send(&reply); err != nil {
			return err
		}
	}
}
