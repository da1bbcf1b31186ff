// Package worker serves transcription and synthesis over NATS request/reply.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
)

// Message headers.
const (
	HeaderFilename    = "Filename"
	HeaderStatus      = "Status"
	HeaderContentType = "Content-Type"
)

const (
	handleMessageTimeout = 5 * time.Minute
	contentTypeJSON      = "application/json"
	statusUnprocessable  = "422"
	statusInternal       = "500"
	defaultWorkers       = 1
	drainTimeout         = 30 * time.Second
	drainPollInterval    = 10 * time.Millisecond
	statusOK             = 200
)

// ErrConnectionNil is returned when the worker is built without a connection.
var ErrConnectionNil = errors.New("nats connection cannot be nil")

const (
	errFmtSubscribe      = "failed to subscribe to subject %s: %w"
	errFmtDrain          = "failed to drain subscription %s: %w"
	errFmtTooLarge       = "TTS failed: synthesized audio (%s) exceeds the max payload of %s"
	errFmtReadAudio      = "TTS failed: reading synthesized audio: %v"
	detailBadRequest     = "request body must be a JSON object with a 'text' field"
	logFmtSubscribed     = "Listening on %s (queue=%q, workers=%d)"
	logFmtReplyFailed    = "Failed to reply on %s: %v"
	logFmtCloseAudio     = "Failed to close synthesized audio: %v"
	logFmtSTTHandled     = "Handled STT request %q in %s"
	logFmtTTSHandled     = "Handled TTS request (%s of audio) in %s"
	logFmtRequestFailed  = "Request on %s failed: %s"
	logFmtNoReplySubject = "Dropping message on %s without a reply subject"
	logFmtHandlerPanic   = "Handler for %s panicked: %v"
	detailFmtPanic       = "request failed: internal error: %v"
)

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer converts text to WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) (*tts.Audio, error)
}

// Options selects subjects and bounds concurrency.
type Options struct {
	STTSubject string
	TTSSubject string
	QueueGroup string
	Workers    int
}

// NatsWorker answers STT and TTS requests published on NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	transcriber    Transcriber
	synthesizer    Synthesizer
	log            *logger.Logger

	workerPool chan struct{}
	inFlight   sync.WaitGroup
}

type textReply struct {
	Text string `json:"text"`
}

type detailReply struct {
	Detail string `json:"detail"`
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	transcriber Transcriber,
	synthesizer Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, ErrConnectionNil
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		transcriber:    transcriber,
		synthesizer:    synthesizer,
		log:            log,
		workerPool:     make(chan struct{}, opts.Workers),
	}, nil
}

// Run subscribes to both subjects and serves until ctx is cancelled. In-flight
// requests are finished before it returns.
func (w *NatsWorker) Run(ctx context.Context) error {
	sttSub, err := w.subscribe(w.opts.STTSubject, w.handleSTT)
	if err != nil {
		return err
	}

	ttsSub, err := w.subscribe(w.opts.TTSSubject, w.handleTTS)
	if err != nil {
		_ = sttSub.Unsubscribe()

		return err
	}

	<-ctx.Done()

	drainErr := errors.Join(drain(sttSub), drain(ttsSub))

	w.inFlight.Wait()

	return drainErr
}

func (w *NatsWorker) subscribe(subject string, handle func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	callback := w.dispatch(handle)

	var (
		sub *nats.Subscription
		err error
	)

	if w.opts.QueueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(subject, w.opts.QueueGroup, callback)
	} else {
		sub, err = w.natsConnection.Subscribe(subject, callback)
	}

	if err != nil {
		return nil, fmt.Errorf(errFmtSubscribe, subject, err)
	}

	w.log.Info(logFmtSubscribed, subject, w.opts.QueueGroup, w.opts.Workers)

	return sub, nil
}

// drain stops new deliveries and waits until every pending message has been
// handed to a handler.
func drain(sub *nats.Subscription) error {
	err := sub.Drain()
	if err != nil {
		return fmt.Errorf(errFmtDrain, sub.Subject, err)
	}

	deadline := time.Now().Add(drainTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}

	return nil
}

// dispatch blocks the subscription until a pool slot is free, then handles
// the message on its own goroutine.
func (w *NatsWorker) dispatch(handle func(context.Context, *nats.Msg)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if msg.Reply == "" {
			w.log.Warn(logFmtNoReplySubject, msg.Subject)

			return
		}

		w.workerPool <- struct{}{}

		w.inFlight.Add(1)

		go func() {
			defer func() {
				<-w.workerPool
				w.inFlight.Done()
			}()

			defer func() {
				if recovered := recover(); recovered != nil {
					w.log.Error(logFmtHandlerPanic, msg.Subject, recovered)
					w.replyDetail(msg, statusInternal, fmt.Sprintf(detailFmtPanic, recovered))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
			defer cancel()

			handle(ctx, msg)
		}()
	}
}

func (w *NatsWorker) handleSTT(ctx context.Context, msg *nats.Msg) {
	started := time.Now()
	filename := msg.Header.Get(HeaderFilename)

	text, err := w.transcriber.Transcribe(ctx, bytes.NewReader(msg.Data), filename)
	if err != nil {
		w.replyDetail(msg, statusInternal, err.Error())

		return
	}

	w.replyJSON(msg, textReply{Text: text})
	w.log.Info(logFmtSTTHandled, filename, time.Since(started).Round(time.Millisecond))
}

func (w *NatsWorker) handleTTS(ctx context.Context, msg *nats.Msg) {
	started := time.Now()

	var req core.SynthesisRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		w.replyDetail(msg, statusUnprocessable, detailBadRequest)

		return
	}

	audio, err := w.synthesizer.Synthesize(ctx, req)
	if err != nil {
		status := statusInternal
		if errors.Is(err, core.ErrValidation) {
			status = statusUnprocessable
		}

		w.replyDetail(msg, status, err.Error())

		return
	}

	defer func() {
		closeErr := audio.Close()
		if closeErr != nil {
			w.log.Warn(logFmtCloseAudio, closeErr)
		}
	}()

	maxPayload := w.natsConnection.MaxPayload()
	if audio.Size > maxPayload {
		w.replyDetail(msg, statusInternal, fmt.Sprintf(errFmtTooLarge,
			humanize.Bytes(uint64(audio.Size)), humanize.Bytes(uint64(maxPayload))))

		return
	}

	data, err := io.ReadAll(audio.Stream)
	if err != nil {
		w.replyDetail(msg, statusInternal, fmt.Sprintf(errFmtReadAudio, err))

		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderContentType, audio.ContentType)
	reply.Data = data

	w.respond(msg, reply)
	w.log.Info(logFmtTTSHandled, humanize.Bytes(uint64(len(data))), time.Since(started).Round(time.Millisecond))
}

func (w *NatsWorker) replyJSON(msg *nats.Msg, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		w.log.Error(logFmtReplyFailed, msg.Subject, err)

		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderContentType, contentTypeJSON)
	reply.Data = data

	w.respond(msg, reply)
}

func (w *NatsWorker) replyDetail(msg *nats.Msg, status, detail string) {
	w.log.Error(logFmtRequestFailed, msg.Subject, detail)

	data, err := json.Marshal(detailReply{Detail: detail})
	if err != nil {
		w.log.Error(logFmtReplyFailed, msg.Subject, err)

		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderContentType, contentTypeJSON)
	reply.Header.Set(HeaderStatus, status)
	reply.Data = data

	w.respond(msg, reply)
}

func (w *NatsWorker) respond(msg, reply *nats.Msg) {
	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, msg.Subject, err)
	}
}

// StatusCode parses the Status header of a reply; replies without one are 200.
func StatusCode(msg *nats.Msg) int {
	status := msg.Header.Get(HeaderStatus)
	if status == "" {
		return statusOK
	}

	code, err := strconv.Atoi(status)
	if err != nil {
		return 0
	}

	return code
}
