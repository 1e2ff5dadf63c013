// Package ioengine drives the console graph: a single-goroutine,
// level-triggered readiness loop that drains readable fds into producer
// rings, fans payloads out to reader rings, and drains rings back to
// writable fds. All topology mutation happens on the engine goroutine;
// other goroutines submit work through Enqueue, which doubles as the
// wakeup (a byte on the wake pipe interrupts the bounded poll).
package ioengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lollipopman/conman/internal/control"
	"github.com/lollipopman/conman/internal/link"
	"github.com/lollipopman/conman/internal/object"
	"github.com/lollipopman/conman/internal/ring"
)

// Options tune the engine. Zero values select the defaults.
type Options struct {
	// TickInterval bounds the readiness wait so idle-timeout scans and
	// shutdown checks run promptly even on a silent graph.
	TickInterval time.Duration

	// IdleTimeout closes client sockets that have not produced input for
	// this long. Zero disables reaping.
	IdleTimeout time.Duration

	// OpenWorkers bounds the pool that runs blocking console opens.
	OpenWorkers int
}

const (
	defaultTickInterval = 250 * time.Millisecond
	defaultOpenWorkers  = 4
	attachTimeout       = 30 * time.Second
)

// Engine owns the registry iteration and the graph topology. Construct
// with New, then Run on a dedicated goroutine.
type Engine struct {
	reg   *object.Registry
	links *link.Manager
	p     poller
	opts  Options

	requests     chan func()
	wakeR, wakeW int

	pool *openPool

	// ctl holds per-client control-parse state across reads.
	ctl map[*object.Object]*control.State

	// pendingOpens maps a console with a transport open in flight to the
	// clients waiting to attach once it lands.
	pendingOpens map[*object.Object][]pendingAttach

	// watched mirrors the poller's interest set; fdObj resolves readiness
	// events back to objects. Both are rebuilt as the graph changes.
	watched map[int]Interest
	fdObj   map[int]*object.Object

	rbuf [object.BufCap - 1]byte
}

type pendingAttach struct {
	client *object.Object
	reply  chan<- error
}

func New(reg *object.Registry, links *link.Manager, opts Options) (*Engine, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.OpenWorkers <= 0 {
		opts.OpenWorkers = defaultOpenWorkers
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		p.Close()
		return nil, fmt.Errorf("wake pipe: %w", err)
	}

	return &Engine{
		reg:          reg,
		links:        links,
		p:            p,
		opts:         opts,
		requests:     make(chan func(), 128),
		wakeR:        pipe[0],
		wakeW:        pipe[1],
		pool:         newOpenPool(opts.OpenWorkers),
		ctl:          make(map[*object.Object]*control.State),
		pendingOpens: make(map[*object.Object][]pendingAttach),
		watched:      make(map[int]Interest),
		fdObj:        make(map[int]*object.Object),
	}, nil
}

// Run ticks until ctx is cancelled, then closes the whole graph with a
// best-effort drain. A fatal I/O error aborts the loop.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		e.pool.stop()
		e.p.Close()
		unix.Close(e.wakeR)
		unix.Close(e.wakeW)
	}()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		default:
		}
		if err := e.Tick(e.opts.TickInterval); err != nil {
			return err
		}
	}
}

// Enqueue schedules fn on the engine goroutine and wakes the readiness
// wait. This is the only way other goroutines touch the graph.
func (e *Engine) Enqueue(fn func()) {
	e.requests <- fn
	var b [1]byte
	unix.Write(e.wakeW, b[:]) // EAGAIN just means a wakeup is already queued
}

// AttachClient hands an accepted connection to the engine: it creates the
// client object, opens the console's transport if needed (on a worker, so
// a slow dial never stalls the tick loop), and links client to console.
// The engine owns fd from this point on, success or failure.
func (e *Engine) AttachClient(user, host string, fd int, console string) error {
	reply := make(chan error, 1)
	e.Enqueue(func() { e.attachClient(user, host, fd, console, reply) })
	select {
	case err := <-reply:
		return err
	case <-time.After(attachTimeout):
		return fmt.Errorf("%w: attach to [%s] timed out", object.ErrOpenFailed, console)
	}
}

func (e *Engine) attachClient(user, host string, fd int, console string, reply chan<- error) {
	con := e.reg.Lookup(object.Console, console)
	if con == nil {
		unix.Close(fd)
		reply <- fmt.Errorf("%w: unknown console [%s]", object.ErrConfig, console)
		return
	}
	cli, err := object.NewClient(user, host, fd)
	if err != nil {
		unix.Close(fd)
		reply <- err
		return
	}
	if err := e.reg.Insert(cli); err != nil {
		unix.Close(fd)
		reply <- err
		return
	}

	if con.Active() {
		e.finishAttach(cli, con, reply)
		return
	}

	e.pendingOpens[con] = append(e.pendingOpens[con], pendingAttach{cli, reply})
	if len(e.pendingOpens[con]) > 1 {
		return // open already in flight
	}
	e.pool.submit(func() {
		newFd, err := con.OpenTransport()
		e.Enqueue(func() { e.finishOpen(con, newFd, err) })
	})
}

func (e *Engine) finishOpen(con *object.Object, fd int, openErr error) {
	pend := e.pendingOpens[con]
	delete(e.pendingOpens, con)

	if openErr != nil {
		slog.Warn("console open failed", "console", con.Name, "error", openErr)
		for _, p := range pend {
			e.links.Close(p.client)
			p.reply <- openErr
		}
		return
	}

	if con.Active() {
		unix.Close(fd)
	} else {
		con.Fd = fd
	}

	for _, p := range pend {
		if !p.client.Active() {
			p.reply <- fmt.Errorf("%w: client %s disconnected during open",
				object.ErrClosed, p.client.Name)
			continue
		}
		e.finishAttach(p.client, con, p.reply)
	}
}

func (e *Engine) finishAttach(cli, con *object.Object, reply chan<- error) {
	// Read side first so console output fans out to the client, then
	// write privilege (the edge the steal protocol acts on). With the new
	// client already a reader, closing a displaced writer never leaves
	// the console orphaned, so a steal does not close and reopen it.
	if err := e.links.Attach(con, cli); err != nil {
		e.links.Close(cli)
		reply <- err
		return
	}
	if err := e.links.Attach(cli, con); err != nil {
		e.links.Close(cli)
		reply <- err
		return
	}
	banner := fmt.Sprintf("* Connection to console [%s] opened.\r\n", con.Name)
	if _, err := cli.WriteIn([]byte(banner)); err != nil {
		slog.Debug("attach banner dropped", "client", cli.Name, "error", err)
	}
	slog.Info("client attached", "client", cli.Name, "console", con.Name)
	reply <- nil
}

// Tick runs one engine iteration: drain requests, recompute interest,
// wait for readiness, then reads, fan-out, writes, and the idle scan, in
// that order. Exported so tests can drive the engine deterministically.
func (e *Engine) Tick(timeout time.Duration) error {
	e.drainRequests()
	e.syncInterest()

	events, err := e.p.Wait(timeout)
	if err != nil {
		return err
	}

	// Reads precede fan-out which precedes writes: a byte read from a
	// console reaches a subscriber's fd no earlier than the next tick.
	for _, ev := range events {
		if ev.Fd == e.wakeR {
			e.drainWake()
			e.drainRequests()
			continue
		}
		o, ok := e.fdObj[ev.Fd]
		if !ok || o.Fd != ev.Fd {
			continue // closed earlier this tick
		}
		switch {
		case ev.Readable:
			if err := e.handleRead(o); err != nil {
				return err
			}
		case ev.Hangup && !ev.Writable:
			// A hung-up write-only sink (logfile) has nothing left to
			// drain through the normal paths.
			e.links.Close(o)
		}
	}

	for _, ev := range events {
		if !ev.Writable {
			continue
		}
		o, ok := e.fdObj[ev.Fd]
		if !ok || o.Fd != ev.Fd {
			continue
		}
		if err := e.handleWrite(o); err != nil {
			return err
		}
	}

	e.reapIdle()
	return nil
}

func (e *Engine) drainRequests() {
	for {
		select {
		case fn := <-e.requests:
			fn()
		default:
			return
		}
	}
}

func (e *Engine) drainWake() {
	var b [16]byte
	for {
		if _, err := unix.Read(e.wakeR, b[:]); err != nil {
			return
		}
	}
}

// syncInterest walks the registry, performs the final close check for
// drained EOF rings, and reconciles the poller's interest set with the
// graph's current readable/writable needs.
func (e *Engine) syncInterest() {
	want := map[int]Interest{e.wakeR: Readable}
	fdObj := make(map[int]*object.Object)

	for _, o := range e.reg.Objects() {
		if o.Active() && o.Buf.GotEOF() && o.Buf.Empty() {
			// close() deferred the fd while the ring drained; finish it.
			e.links.Close(o)
		}
		if !o.Active() {
			continue
		}
		var in Interest
		if o.Kind != object.LogFile {
			in |= Readable
		}
		if !o.Buf.Empty() {
			in |= Writable
		}
		if in == 0 {
			continue
		}
		want[o.Fd] = in
		fdObj[o.Fd] = o
	}

	for fd := range e.watched {
		if _, ok := want[fd]; !ok {
			e.p.Set(fd, 0)
		}
	}
	for fd, in := range want {
		if err := e.p.Set(fd, in); err != nil {
			slog.Warn("poller registration failed", "fd", fd, "error", err)
		}
	}
	e.watched = want
	e.fdObj = fdObj

	// Drop parse state for clients that have been destroyed.
	for o := range e.ctl {
		if !o.Active() {
			delete(e.ctl, o)
		}
	}
}

func (e *Engine) handleRead(o *object.Object) error {
	var n int
	var err error
	for {
		n, err = unix.Read(o.Fd, e.rbuf[:])
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return nil
	case err == unix.ECONNRESET || err == unix.EIO:
		// EIO is what a pty master reports once its helper exits; both
		// mean the peer is gone.
		e.links.Close(o)
		return nil
	case err != nil:
		return fmt.Errorf("%w: read error on fd=%d (%s): %v", object.ErrIO, o.Fd, o.Name, err)
	case n == 0:
		e.links.Close(o)
		return nil
	}

	buf := e.rbuf[:n]
	var cmds []control.Cmd
	if o.Kind == object.ClientSocket {
		o.TouchRead(time.Now())
		st := e.ctl[o]
		if st == nil {
			st = &control.State{}
			e.ctl[o] = st
		}
		n, cmds = control.Parse(st, buf)
		buf = buf[:n]
		o.ClientAux.GotIAC = st.GotIAC
	}

	for _, r := range o.Readers {
		if r.Buf.GotEOF() {
			continue
		}
		if _, err := r.Buf.Push(buf); err != nil {
			slog.Debug("fan-out dropped", "from", o.Name, "to", r.Name, "error", err)
		}
	}

	for _, c := range cmds {
		if c.Kind == control.CmdDetach {
			slog.Info("client detached", "client", o.Name)
			e.links.Close(o)
		}
	}
	return nil
}

func (e *Engine) handleWrite(o *object.Object) error {
	if _, err := o.Buf.Drain(o.Fd); err != nil && err != ring.ErrWouldBlock {
		return fmt.Errorf("%w: write error on fd=%d (%s): %v", object.ErrIO, o.Fd, o.Name, err)
	}
	if o.Buf.GotEOF() && o.Buf.Empty() {
		e.links.Close(o)
	}
	return nil
}

func (e *Engine) reapIdle() {
	if e.opts.IdleTimeout <= 0 {
		return
	}
	now := time.Now()
	for _, o := range e.reg.Objects() {
		if o.Kind != object.ClientSocket || !o.Active() {
			continue
		}
		if now.Sub(o.ClientAux.TimeLastRead) > e.opts.IdleTimeout {
			slog.Info("closing idle client", "client", o.Name)
			e.links.Close(o)
		}
	}
}

// shutdown closes every object and gives latched rings a handful of
// short ticks to drain before the fds go away for good.
func (e *Engine) shutdown() {
	slog.Info("closing console graph")
	for _, o := range e.reg.Objects() {
		e.links.Close(o)
	}
	for i := 0; i < 20; i++ {
		busy := false
		for _, o := range e.reg.Objects() {
			if o.Active() {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		if err := e.Tick(50 * time.Millisecond); err != nil {
			break
		}
	}
	for _, o := range e.reg.Objects() {
		o.CloseFd()
	}
}
