// Package engine is the single-threaded actor that owns the camera,
// detector, recognizer, and IR emitter. Every piece of hardware I/O
// and every ONNX inference call happens on its dedicated goroutine;
// callers never touch these resources directly, only send requests
// through an EngineHandle and wait on a one-shot reply.
package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sovren-software/visage/internal/camera"
	"github.com/sovren-software/visage/internal/config"
	"github.com/sovren-software/visage/internal/emitter"
	"github.com/sovren-software/visage/internal/quirks"
	"github.com/sovren-software/visage/internal/types"
	"github.com/sovren-software/visage/internal/vision"
)

// Kind enumerates the engine's error taxonomy from spec.md §7.
type Kind int

const (
	ErrNoFaceDetected Kind = iota
	ErrChannelClosed
	ErrCaptureFailed
	ErrTimeout
)

// emitterSettleDelay is how long to wait after activating the IR
// emitter for the camera's automatic gain control to settle before
// the first capture.
const emitterSettleDelay = 100 * time.Millisecond

// Error is the engine component's typed error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("engine: %s", e.Msg)
}
func (e *Error) Unwrap() error { return e.Err }

// requestQueueCapacity bounds the engine actor's inbox per spec.md §4.E.
const requestQueueCapacity = 4

type enrollRequest struct {
	frameCount int
	reply      chan enrollReply
}

type enrollReply struct {
	Embedding    types.Embedding
	QualityScore float32
	Err          error
}

type verifyRequest struct {
	gallery    types.Gallery
	threshold  float32
	frameCount int
	reply      chan verifyReply
}

type verifyReply struct {
	Match       types.MatchResult
	BestQuality float32
	Err         error
}

type engineRequest interface{ isEngineRequest() }

func (enrollRequest) isEngineRequest() {}
func (verifyRequest) isEngineRequest() {}

// EngineHandle is a cheap-to-clone reference to the running engine
// actor — copying it just copies two channel references.
type EngineHandle struct {
	requests chan engineRequest
	done     chan struct{}
}

// engine owns every piece of hardware and inference state. Only the
// actor goroutine started by Spawn ever touches these fields — no
// locks guard them, by design; that's what the request queue is for.
type engine struct {
	cam        *camera.Camera
	detector   *vision.Detector
	recognizer *vision.Recognizer
	emitter    *emitter.Emitter
	hasEmitter bool
	log        *logrus.Entry
}

// Spawn runs the engine's fail-fast startup sequence — open camera,
// load detector, load recognizer, probe emitter, discard warmup
// frames — and starts its dedicated actor goroutine. Failing to open
// the camera or load either model returns an error, which is fatal to
// the daemon; a missing emitter quirk or a failed warmup capture is
// logged and startup continues.
func Spawn(cfg *config.Config, quirkDB *quirks.DB, log *logrus.Entry) (*EngineHandle, error) {
	cam, err := camera.Open(cfg.CameraDevice)
	if err != nil {
		return nil, fmt.Errorf("engine: open camera: %w", err)
	}

	detector, err := vision.NewDetector(cfg.DetectorPath(), nil)
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("engine: load detector: %w", err)
	}

	recognizer, err := vision.NewRecognizer(cfg.RecognizerPath(), nil)
	if err != nil {
		detector.Close()
		cam.Close()
		return nil, fmt.Errorf("engine: load recognizer: %w", err)
	}

	var em *emitter.Emitter
	hasEmitter := false
	if cfg.EmitterEnabled {
		em, hasEmitter = emitter.ForDevice(cfg.CameraDevice, quirkDB)
		if !hasEmitter {
			log.Warn("no IR emitter quirk for this camera; proceeding without illumination")
		} else {
			log.WithField("camera", em.Name()).Info("IR emitter available")
		}
	} else {
		log.Info("IR emitter disabled via VISAGE_EMITTER_ENABLED=0")
	}

	for i := 0; i < cfg.WarmupFrames; i++ {
		if _, err := cam.CaptureFrame(); err != nil {
			log.WithError(err).Warn("warmup frame capture failed")
		}
	}
	log.Info("engine ready")

	e := &engine{
		cam:        cam,
		detector:   detector,
		recognizer: recognizer,
		emitter:    em,
		hasEmitter: hasEmitter,
		log:        log,
	}

	requests := make(chan engineRequest, requestQueueCapacity)
	done := make(chan struct{})
	go e.run(requests, done)

	return &EngineHandle{requests: requests, done: done}, nil
}

// run is the actor loop. A panic here is not recovered into a
// continuing loop: it closes done, so every reply already queued (and
// every future Enroll/Verify call) observes ChannelClosed rather than
// hanging, per spec.md §9's fatal/warning split.
func (e *engine) run(requests chan engineRequest, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("engine actor panicked; daemon should exit for supervisor restart")
		}
		e.recognizer.Close()
		e.detector.Close()
		e.cam.Close()
	}()

	for req := range requests {
		switch r := req.(type) {
		case enrollRequest:
			r.reply <- e.runEnroll(r.frameCount)
		case verifyRequest:
			r.reply <- e.runVerify(r.gallery, r.threshold, r.frameCount)
		}
	}
}

func (e *engine) withEmitter(fn func()) {
	if e.hasEmitter {
		if err := e.emitter.Activate(); err != nil {
			e.log.WithError(err).Warn("emitter activate failed; continuing without illumination")
		} else {
			time.Sleep(emitterSettleDelay)
		}
		defer func() {
			if err := e.emitter.Deactivate(); err != nil {
				e.log.WithError(err).Warn("emitter deactivate failed")
			}
		}()
	}
	fn()
}

// runEnroll captures frames, keeps the single highest-confidence
// detection across all of them, and embeds it.
func (e *engine) runEnroll(frameCount int) enrollReply {
	var reply enrollReply
	e.withEmitter(func() {
		frames, _, err := e.cam.CaptureFrames(frameCount)
		if err != nil {
			reply = enrollReply{Err: &Error{Kind: ErrCaptureFailed, Msg: "capture_frames", Err: err}}
			return
		}

		var bestFrame types.Frame
		var bestFace types.BoundingBox
		found := false
		for _, f := range frames {
			faces, err := e.detector.Detect(f.Data, f.Width, f.Height)
			if err != nil || len(faces) == 0 {
				continue
			}
			top := faces[0]
			if !found || top.Confidence > bestFace.Confidence {
				bestFace = top
				bestFrame = f
				found = true
			}
		}
		if !found {
			reply = enrollReply{Err: &Error{Kind: ErrNoFaceDetected, Msg: "no face detected across captured frames"}}
			return
		}

		embedding, err := e.recognizer.Extract(bestFrame.Data, bestFrame.Width, bestFrame.Height, bestFace)
		if err != nil {
			reply = enrollReply{Err: fmt.Errorf("engine: extract embedding: %w", err)}
			return
		}
		reply = enrollReply{Embedding: embedding, QualityScore: bestFace.Confidence}
	})
	return reply
}

// runVerify captures frames, and for each with a detection, embeds
// the top face and compares it against gallery — keeping the result
// with the strictly highest similarity (ties favor the earlier
// frame; see spec.md §9's open question on this).
func (e *engine) runVerify(gallery types.Gallery, threshold float32, frameCount int) verifyReply {
	var reply verifyReply
	e.withEmitter(func() {
		frames, _, err := e.cam.CaptureFrames(frameCount)
		if err != nil {
			reply = verifyReply{Err: &Error{Kind: ErrCaptureFailed, Msg: "capture_frames", Err: err}}
			return
		}

		var best types.MatchResult
		var bestQuality float32
		haveResult := false
		for _, f := range frames {
			faces, err := e.detector.Detect(f.Data, f.Width, f.Height)
			if err != nil || len(faces) == 0 {
				continue
			}
			top := faces[0]
			embedding, err := e.recognizer.Extract(f.Data, f.Width, f.Height, top)
			if err != nil {
				continue
			}
			result := vision.CompareConstantTime(embedding, gallery, threshold)
			if !haveResult || result.Similarity > best.Similarity {
				best = result
				bestQuality = top.Confidence
				haveResult = true
			}
		}
		if !haveResult {
			reply = verifyReply{Err: &Error{Kind: ErrNoFaceDetected, Msg: "no face detected across captured frames"}}
			return
		}
		reply = verifyReply{Match: best, BestQuality: bestQuality}
	})
	return reply
}

// Enroll sends an Enroll request to the engine actor and waits for
// its reply.
func (h *EngineHandle) Enroll(frameCount int) (types.Embedding, float32, error) {
	reply := make(chan enrollReply, 1)
	select {
	case h.requests <- enrollRequest{frameCount: frameCount, reply: reply}:
	case <-h.done:
		return types.Embedding{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor is not running"}
	}

	select {
	case resp := <-reply:
		return resp.Embedding, resp.QualityScore, resp.Err
	case <-h.done:
		return types.Embedding{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor stopped while request was queued"}
	}
}

// Verify sends a Verify request to the engine actor and waits for its
// reply, with no bound on how long that takes. IPC callers should use
// VerifyWithTimeout instead; this is kept for callers (and tests) that
// want to wait out the actor directly.
func (h *EngineHandle) Verify(gallery types.Gallery, threshold float32, frameCount int) (types.MatchResult, float32, error) {
	reply := make(chan verifyReply, 1)
	select {
	case h.requests <- verifyRequest{gallery: gallery, threshold: threshold, frameCount: frameCount, reply: reply}:
	case <-h.done:
		return types.MatchResult{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor is not running"}
	}

	select {
	case resp := <-reply:
		return resp.Match, resp.BestQuality, resp.Err
	case <-h.done:
		return types.MatchResult{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor stopped while request was queued"}
	}
}

// VerifyWithTimeout behaves like Verify but gives up after timeout. If
// the timeout fires, the engine actor is left to finish the request it
// already picked up and discards the reply: the reply channel is
// buffered (cap 1), so the late send never blocks the actor loop.
func (h *EngineHandle) VerifyWithTimeout(gallery types.Gallery, threshold float32, frameCount int, timeout time.Duration) (types.MatchResult, float32, error) {
	reply := make(chan verifyReply, 1)
	select {
	case h.requests <- verifyRequest{gallery: gallery, threshold: threshold, frameCount: frameCount, reply: reply}:
	case <-h.done:
		return types.MatchResult{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor is not running"}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-reply:
		return resp.Match, resp.BestQuality, resp.Err
	case <-h.done:
		return types.MatchResult{}, 0, &Error{Kind: ErrChannelClosed, Msg: "engine actor stopped while request was queued"}
	case <-timer.C:
		return types.MatchResult{}, 0, &Error{Kind: ErrTimeout, Msg: fmt.Sprintf("verify timed out after %s", timeout)}
	}
}

// Shutdown stops the actor loop and waits for it to release its
// hardware and inference sessions.
func (h *EngineHandle) Shutdown() {
	close(h.requests)
	<-h.done
}
