package ioengine

import "sync"

// openPool runs blocking console opens (terminal-server dials, helper
// spawns) off the engine goroutine. Workers touch nothing but their job's
// arguments; results come back to the engine through its request channel.
type openPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newOpenPool(workers int) *openPool {
	if workers < 1 {
		workers = 1
	}
	p := &openPool{jobs: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *openPool) submit(job func()) {
	p.jobs <- job
}

func (p *openPool) stop() {
	close(p.jobs)
	p.wg.Wait()
}
