// Package relay implements the prompt relay endpoint: one prompt in, one
// upstream completion out.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/gaspardpetit/promptrelay/internal/api"
	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
	"github.com/gaspardpetit/promptrelay/internal/upstream"
)

// Responses returned to callers. Upstream error detail never leaves the
// server.
const (
	MsgGenerateFailed = "Error generating text"
	MsgInvalidRequest = "Invalid request"
	MsgPromptTooLarge = "Prompt too large"
)

const (
	DefaultTimeout = 60 * time.Second
	// bytes allowed per prompt character: worst case is an escaped
	// surrogate pair (\ud83d\ude00) for one astral character
	bytesPerChar  = 12
	bodyOverhead  = 1024
	unboundedBody = 1 << 20
)

// Options tunes an Endpoint.
type Options struct {
	// Timeout bounds the upstream call. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxPromptChars rejects longer prompts before they reach the provider.
	// Zero disables the length check (the body is still capped).
	MaxPromptChars int
	// Model labels upstream metrics.
	Model string
}

// Endpoint relays prompts to an upstream Completer. It holds no per-request
// state and is safe for concurrent use.
type Endpoint struct {
	completer upstream.Completer
	opts      Options
	schema    *openapi3.Schema
	maxBody   int64
}

// New returns an Endpoint that sends prompts to c.
func New(c upstream.Completer, opts Options) *Endpoint {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	maxBody := int64(unboundedBody)
	if opts.MaxPromptChars > 0 {
		maxBody = int64(opts.MaxPromptChars)*bytesPerChar + bodyOverhead
	}
	return &Endpoint{
		completer: c,
		opts:      opts,
		schema:    api.PromptSchema(opts.MaxPromptChars),
		maxBody:   maxBody,
	}
}

// GenerateText sends prompt to the upstream provider as a single user
// message and returns the first completion. The call is bounded by the
// endpoint timeout and is never retried. Every failure satisfies
// errors.Is(err, upstream.ErrUpstream).
func (e *Endpoint) GenerateText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := metrics.UpstreamStart(e.opts.Model)
	text, err := e.completer.Complete(ctx, upstream.UserPrompt(prompt))
	done(err == nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", upstream.Wrap("generate text", err)
	}
	return text, nil
}

// ServeHTTP handles POST /openai/generate-text.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	relayID := uuid.NewString()
	log := logx.Component("relay").With().
		Str("request_id", chiMiddleware.GetReqID(r.Context())).
		Str("relay_id", relayID).
		Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e.reject(w, http.StatusRequestEntityTooLarge, MsgPromptTooLarge)
			log.Debug().Int64("limit", tooLarge.Limit).Msg("request body too large")
			return
		}
		e.reject(w, http.StatusBadRequest, MsgInvalidRequest)
		log.Debug().Err(err).Msg("read request body")
		return
	}

	prompt, err := api.DecodePrompt(e.schema, body)
	if err != nil {
		if errors.Is(err, api.ErrPromptTooLarge) {
			e.reject(w, http.StatusRequestEntityTooLarge, MsgPromptTooLarge)
		} else {
			e.reject(w, http.StatusBadRequest, MsgInvalidRequest)
		}
		log.Debug().Err(err).Msg("rejected prompt")
		return
	}

	start := time.Now()
	// a relay runs to completion or failure even if the caller goes away
	text, err := e.GenerateText(context.WithoutCancel(r.Context()), prompt)
	if err != nil {
		metrics.RecordRelayRequest(metrics.OutcomeUpstreamError)
		log.Error().Err(err).Str("model", e.opts.Model).Dur("duration", time.Since(start)).Msg("generate text failed")
		http.Error(w, MsgGenerateFailed, http.StatusInternalServerError)
		return
	}

	b, err := json.Marshal(text)
	if err != nil {
		metrics.RecordRelayRequest(metrics.OutcomeUpstreamError)
		log.Error().Err(err).Msg("encode completion")
		http.Error(w, MsgGenerateFailed, http.StatusInternalServerError)
		return
	}
	metrics.RecordRelayRequest(metrics.OutcomeSuccess)
	log.Info().Str("model", e.opts.Model).Dur("duration", time.Since(start)).Int("chars", utf8.RuneCountInString(text)).Msg("relayed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		log.Warn().Err(err).Msg("write completion")
	}
}

func (e *Endpoint) reject(w http.ResponseWriter, status int, msg string) {
	metrics.RecordRelayRequest(metrics.OutcomeInvalid)
	http.Error(w, msg, status)
}
