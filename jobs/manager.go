package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tmpim/conscript"
	"github.com/tmpim/conscript/video"
)

const stateTimeout = 3 * time.Second

// Request names the video to package and the archive to write.
type Request struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Opener opens the frame source for a request. Sources implementing
// io.Closer are closed once the job ends.
type Opener func(ctx context.Context, req Request) (conscript.FrameSource, error)

// Manager runs at most one packaging job at a time.
type Manager struct {
	clientsMutex *sync.Mutex
	clients      []*Client

	stateCond *sync.Cond
	state     State

	open        Opener
	baseOptions conscript.PackOptions
}

// NewManager returns an idle manager. Every job is packed with a copy of
// baseOptions.
func NewManager(open Opener, baseOptions conscript.PackOptions) *Manager {
	return &Manager{
		clientsMutex: new(sync.Mutex),
		stateCond:    sync.NewCond(new(sync.Mutex)),
		state: State{
			State: StateIdle,
		},
		open:        open,
		baseOptions: baseOptions,
	}
}

// VideoOpener returns an Opener decoding files with ffmpeg using opts. The
// expected frame count is probed per file.
func VideoOpener(opts video.Options) Opener {
	return func(ctx context.Context, req Request) (conscript.FrameSource, error) {
		fileOpts := opts
		meta, err := video.Probe(ctx, req.Input)
		if err != nil {
			log.Println("conscript jobs: probe failed, frame count unknown:", err)
		} else {
			fileOpts.Frames = meta.FramesAt(opts.FPS)
		}

		return video.Open(ctx, req.Input, fileOpts)
	}
}

type progressJSON struct {
	Frame int `json:"frame"`
	Total int `json:"total"`
}

// Start begins packaging req in the background. It fails if a job is
// already running.
func (m *Manager) Start(req Request) error {
	if req.Input == "" || req.Output == "" {
		return errors.New("conscript jobs: start: input and output must be specified")
	}

	ctx, cancel := context.WithCancel(context.Background())

	if !m.UpdateState(State{
		Title:   video.FileTitle(req.Input),
		State:   StatePacking,
		Input:   req.Input,
		Output:  req.Output,
		Frame:   0,
		Total:   0,
		Started: time.Now(),
		Context: ctx,
		Cancel:  cancel,
	}, []int{StateIdle, StateFinished, StateFailed}) {
		cancel()
		return errors.New("conscript jobs: start: a job is already running")
	}

	go m.run(ctx, cancel, req)

	return nil
}

func (m *Manager) run(ctx context.Context, cancel func(), req Request) {
	defer cancel()

	err := func() error {
		src, err := m.open(ctx, req)
		if err != nil {
			return err
		}
		if closer, ok := src.(io.Closer); ok {
			defer closer.Close()
		}

		opts := m.baseOptions
		opts.OnProgress = m.progress
		result, err := conscript.Pack(ctx, req.Output, src, opts)
		if err != nil {
			return err
		}

		log.Printf("conscript jobs: packed %d frames into %s", result.Frames, result.Path)
		return nil
	}()

	state := NewEmptyState()
	if err != nil {
		log.Println("conscript jobs: job failed:", err)
		state.State = StateFailed
		state.Error = err.Error()
	} else {
		state.State = StateFinished
	}

	if !m.UpdateState(state, []int{StatePacking}) {
		log.Println("conscript jobs: state inconsistency, expected packing")
	}
}

func (m *Manager) progress(p conscript.Progress) {
	state := NewEmptyState()
	state.Frame = p.Frame
	state.Total = p.Total
	m.UpdateState(state, []int{StatePacking})

	d, err := json.Marshal(progressJSON{Frame: p.Frame, Total: p.Total})
	if err != nil {
		log.Println("conscript jobs: error encoding progress JSON:", err)
		return
	}
	m.Broadcast(SubscriptionProgress, append([]byte{PacketProgress}, d...))
}

// Cancel stops the running job and waits for it to end.
func (m *Manager) Cancel() (State, error) {
	state := m.State()

	validState := state.State == StatePacking
	validCtx := state.Context != nil && state.Context.Err() == nil && state.Cancel != nil

	if !validState || !validCtx {
		return State{}, errors.New("conscript jobs: not in a valid state to cancel")
	}

	state.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	finalState, ok := m.WaitForState(ctx, StateFailed, StateFinished)
	if !ok {
		return State{}, errors.New("conscript jobs: timeout waiting for the job to stop")
	}

	return finalState, nil
}
