// Package dispatcher orchestrates a single chat request end to end: picking
// an account, resolving its credentials and project id, translating the
// request, calling the Cloud Code backend across endpoint/account/model
// fallbacks with the classified-error retry policy, and translating the
// response back. It is the component every other package in this module
// ultimately exists to serve.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaycc/cc-dispatch/internal/apierrors"
	"github.com/relaycc/cc-dispatch/internal/clock"
	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/credentials"
	"github.com/relaycc/cc-dispatch/internal/ledger"
	"github.com/relaycc/cc-dispatch/internal/projects"
	"github.com/relaycc/cc-dispatch/internal/selector"
	"github.com/relaycc/cc-dispatch/internal/store"
	"github.com/relaycc/cc-dispatch/internal/translate"
	"github.com/relaycc/cc-dispatch/internal/utils"
	"github.com/relaycc/cc-dispatch/pkg/anthropic"
)

// Dispatcher wires together the account pool, rate-limit ledger, credential
// store, project resolver, and backend translator into one request pipeline.
type Dispatcher struct {
	cfg        *config.Config
	clock      clock.Clock
	sleeper    clock.Sleeper
	httpClient *http.Client
	accounts   *store.JSONStore
	selector   *selector.Selector
	ledger     *ledger.Ledger
	creds      *credentials.Store
	projects   *projects.Resolver

	// accountsCache mirrors the account pool loaded from disk, refreshed by
	// Reload, so the hot path never re-reads the accounts file.
	accountsCache map[string]store.Account
}

// New builds a Dispatcher. The account pool is loaded once at construction;
// call Reload to pick up accounts.json edits made by the accounts CLI.
func New(cfg *config.Config, accounts *store.JSONStore, c clock.Clock, sleeper clock.Sleeper, httpClient *http.Client, creds *credentials.Store, projectResolver *projects.Resolver, ledg *ledger.Ledger) (*Dispatcher, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	d := &Dispatcher{
		cfg:        cfg,
		clock:      c,
		sleeper:    sleeper,
		httpClient: httpClient,
		accounts:   accounts,
		ledger:     ledg,
		creds:      creds,
		projects:   projectResolver,
	}
	d.selector = selector.New(nil, ledg, cfg.MaxWaitBeforeError)
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the account pool from disk into the selector.
func (d *Dispatcher) Reload() error {
	cfg, err := d.accounts.Load()
	if err != nil {
		return err
	}
	emails := make([]string, 0, len(cfg.Accounts))
	byEmail := make(map[string]store.Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		emails = append(emails, a.Email)
		byEmail[a.Email] = a
	}
	d.selector.SetAccounts(emails)
	d.accountsCache = byEmail
	return nil
}

// Dispatch sends req and returns the fully accumulated (non-streaming)
// response, applying the retry and one-level model fallback policy.
func (d *Dispatcher) Dispatch(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	var result *anthropic.MessagesResponse
	emptyExhausted, err := d.run(ctx, req, fallbackEnabled, func(body io.Reader) error {
		resp, perr := translate.ParseBuffered(body, req.Model)
		if perr != nil {
			return perr
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if emptyExhausted || result == nil {
		return bufferedEmptyFallback(req.Model), nil
	}
	return result, nil
}

// DispatchStream sends req and streams live Anthropic events on the returned
// channel, closing it when the response (or fallback) is complete. The error
// channel receives at most one value, after outCh is closed.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (<-chan translate.StreamEvent, <-chan error) {
	outCh := make(chan translate.StreamEvent, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		emptyExhausted, err := d.run(ctx, req, fallbackEnabled, func(body io.Reader) error {
			events, errs := translate.StreamLive(body, req.Model)
			for e := range events {
				outCh <- e
			}
			return <-errs
		})
		if err != nil {
			errCh <- err
			return
		}
		if emptyExhausted {
			for _, e := range translate.EmptyResponseFallback(req.Model) {
				outCh <- e
			}
		}
	}()

	return outCh, errCh
}

// emit is called with the successful response body for the caller to parse.
// It returns translate.IsEmptyResponse(err)==true when the body decoded to
// zero content parts, which the retry loop treats as a distinct, bounded
// retry case rather than a hard failure.
type emit func(body io.Reader) error

// run implements the account/endpoint/retry state machine. It returns
// emptyExhausted=true when every empty-response retry was spent without
// content, in which case the caller substitutes the canned degraded reply.
func (d *Dispatcher) run(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool, emitFn emit) (emptyExhausted bool, err error) {
	stickyKey := translate.DeriveSessionID(req)

	usable := func(email, model string) bool {
		acc, ok := d.accountsCache[email]
		return ok && acc.Enabled && !acc.Invalid && !d.ledger.IsRateLimited(email, model)
	}

	n := len(d.accountsCache)
	maxAttempts := d.cfg.MaxRetries
	if n+1 > maxAttempts {
		maxAttempts = n + 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		email, ok, selErr := d.selectAccount(ctx, stickyKey, req.Model, usable)
		if selErr != nil {
			return false, selErr
		}
		if !ok {
			return d.exhausted(ctx, req, fallbackEnabled, emitFn)
		}

		acc := d.accountsCache[email]
		outcome, empty, rerr := d.tryAccount(ctx, &acc, req, emitFn)
		switch outcome {
		case outcomeSuccess:
			d.ledger.Clear(email, req.Model)
			return false, nil
		case outcomeEmptyExhausted:
			_ = empty
			return true, nil
		case outcomeRateLimited, outcomeAuthFailed:
			lastErr = rerr
		case outcomeUpstreamFailed:
			lastErr = rerr
			d.selector.Release(stickyKey)
		case outcomeNetworkFailed:
			lastErr = rerr
			if serr := d.sleeper.Sleep(ctx, time.Second); serr != nil {
				return false, serr
			}
			d.selector.Release(stickyKey)
		}
	}

	return false, apierrors.NewMaxRetriesExceededError(maxAttempts, lastErr)
}

// selectAccount implements the outer loop's account-selection state machine:
// prefer the sticky account, rotate to any other usable one, and if neither
// is possible but the sticky account's own limit clears within
// MaxWaitBeforeError, sleep and retry it before finally checking whether the
// whole pool is rate-limited and worth a bounded wait.
func (d *Dispatcher) selectAccount(ctx context.Context, stickyKey, model string, usable selector.Usable) (string, bool, error) {
	if email, waitFor, ok := d.selector.Pick(stickyKey, model, usable); ok {
		return email, true, nil
	} else if waitFor > 0 {
		if serr := d.sleeper.Sleep(ctx, waitFor); serr != nil {
			return "", false, serr
		}
		d.ledger.ClearExpired()
		if email, ok := d.selector.GetCurrentSticky(stickyKey, model, usable); ok {
			return email, true, nil
		}
	}

	accounts := d.allAccountEmails()
	if d.ledger.AllRateLimited(accounts, model) {
		wait := d.ledger.MinWait(accounts, model)
		if wait <= d.cfg.MaxWaitBeforeError {
			if serr := d.sleeper.Sleep(ctx, wait); serr != nil {
				return "", false, serr
			}
			d.ledger.ClearExpired()
			if email, ok := d.selector.PickNext(stickyKey, model, usable); ok {
				return email, true, nil
			}
		}
		// wait exceeds the cap, or the pool is still empty after the bounded
		// wait: fall through to exhausted(), which tries the one-level model
		// fallback before surfacing ResourceExhausted (spec scenario 4 takes
		// a fallback even when the wait itself would exceed the cap).
	}

	return "", false, nil
}

// exhausted is reached once selectAccount reports no usable account at all:
// try the one-level model fallback if enabled, otherwise surface either
// ResourceExhausted (every account rate-limited past the wait cap) or
// NoAccountsAvailable (pool simply has nothing usable).
func (d *Dispatcher) exhausted(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool, emitFn emit) (bool, error) {
	if fallbackEnabled {
		if fallbackModel, ok := config.GetFallbackModel(req.Model); ok {
			utils.ModelFallback(req.Model, fallbackModel)
			fallbackReq := *req
			fallbackReq.Model = fallbackModel
			return d.run(ctx, &fallbackReq, false, emitFn)
		}
	}

	accounts := d.allAccountEmails()
	allLimited := d.ledger.AllRateLimited(accounts, req.Model)
	minWait := d.ledger.MinWait(accounts, req.Model)
	if allLimited && minWait > d.cfg.MaxWaitBeforeError {
		return false, apierrors.NewResourceExhaustedError("all accounts are rate-limited", minWait.Milliseconds(), "", req.Model)
	}
	return false, apierrors.NewNoAccountsAvailableError(allLimited, minWait.Milliseconds())
}

func (d *Dispatcher) allAccountEmails() []string {
	emails := make([]string, 0, len(d.accountsCache))
	for e := range d.accountsCache {
		emails = append(emails, e)
	}
	return emails
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeEmptyExhausted
	outcomeRateLimited
	outcomeAuthFailed
	outcomeUpstreamFailed
	outcomeNetworkFailed
)

// tryAccount resolves credentials/project for acc and attempts every
// configured endpoint in order, applying the empty-response retry ladder on
// a 200 with no content.
func (d *Dispatcher) tryAccount(ctx context.Context, acc *store.Account, req *anthropic.MessagesRequest, emitFn emit) (outcome, bool, error) {
	token, err := d.creds.AccessToken(ctx, acc)
	if err != nil {
		if _, ok := err.(*apierrors.AuthInvalidError); ok {
			_ = d.accounts.UpdateAccount(acc.Email, func(a *store.Account) {
				a.Invalid = true
				a.InvalidReason = err.Error()
			})
			utils.AccountInvalidated(acc.Email, err.Error())
			_ = d.Reload()
		}
		return outcomeAuthFailed, false, err
	}

	projectID, err := d.projects.Resolve(ctx, acc.Email, token, acc.ProjectID)
	if err != nil {
		return outcomeNetworkFailed, false, err
	}

	payload, err := translate.BuildRequest(req, projectID)
	if err != nil {
		return outcomeUpstreamFailed, false, err
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return outcomeUpstreamFailed, false, err
	}
	headers := translate.BuildHeaders(token, req.Model, "text/event-stream")

	// allRateLimited429/minResetAt implement spec §4.5 step 6: an account is
	// only marked rate-limited once EVERY endpoint in the fallback list came
	// back 429 for this attempt, and the record uses the minimum reset time
	// across them (§9's stipulated merge policy) — a single 429 followed by
	// another endpoint's success or other failure must never touch the
	// ledger (see P5/P6).
	allRateLimited429 := true
	sawAny429 := false
	var minResetAt time.Time

	var lastErr error
	for _, endpoint := range config.EndpointFallbacks {
		// Deliberate simplification: every attempt goes through the SSE path,
		// including the non-streaming, non-thinking case spec §4.5 step 5
		// names for the plain JSON generateContent endpoint. Buffered callers
		// (Dispatch, as opposed to DispatchStream) still get a single
		// accumulated response out of it via translate.ParseBuffered, so
		// observed behavior matches the JSON path; the JSON endpoint itself is
		// never exercised.
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"

		capacityRetries := 0
	requestLoop:
		for {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
			if err != nil {
				return outcomeNetworkFailed, false, err
			}
			for k, v := range headers {
				httpReq.Header.Set(k, v)
			}

			resp, err := d.httpClient.Do(httpReq)
			if err != nil {
				lastErr = apierrors.NewAuthNetworkError(err.Error(), acc.Email)
				allRateLimited429 = false
				break requestLoop
			}

			if resp.StatusCode != http.StatusOK {
				errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
				resp.Body.Close()

				switch {
				case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
					d.creds.Invalidate(acc.Email)
					d.projects.Invalidate(acc.Email)
					lastErr = apierrors.NewAuthInvalidError(string(errBody), acc.Email)
					allRateLimited429 = false

				case resp.StatusCode == http.StatusTooManyRequests:
					sawAny429 = true
					resetAt := d.clock.Now().Add(ledger.ParseResetDuration(resp.Header, errBody, d.cfg.DefaultCooldown))
					if minResetAt.IsZero() || resetAt.Before(minResetAt) {
						minResetAt = resetAt
					}
					lastErr = apierrors.NewResourceExhaustedError(string(errBody), resetAt.Sub(d.clock.Now()).Milliseconds(), acc.Email, req.Model)

				case resp.StatusCode == 503 || resp.StatusCode == 529:
					allRateLimited429 = false
					if capacityRetries < len(config.CapacityBackoffTiersMs) {
						waitMs := config.CapacityBackoffTiersMs[capacityRetries]
						capacityRetries++
						if serr := d.sleeper.Sleep(ctx, msToDuration(waitMs)); serr != nil {
							return outcomeNetworkFailed, false, serr
						}
						continue requestLoop
					}
					lastErr = apierrors.NewUpstream5xxError(string(errBody), resp.StatusCode)

				case resp.StatusCode >= 500:
					allRateLimited429 = false
					lastErr = apierrors.NewUpstream5xxError(string(errBody), resp.StatusCode)

				default:
					// Non-429, non-auth 4xx: remember and try the next
					// endpoint per spec §4.5 step 5.
					allRateLimited429 = false
					lastErr = apierrors.NewUpstream4xxError(string(errBody), resp.StatusCode)
				}
				break requestLoop
			}

			// 200 OK: hand the body to the caller's parser, retrying a bounded
			// number of times if it decodes to zero content parts.
			emptyRetries := 0
			for {
				perr := emitFn(resp.Body)
				resp.Body.Close()
				if perr == nil {
					return outcomeSuccess, false, nil
				}
				if !translate.IsEmptyResponse(perr) {
					lastErr = perr
					allRateLimited429 = false
					break requestLoop
				}
				if emptyRetries >= config.MaxEmptyResponseTry {
					return outcomeEmptyExhausted, true, nil
				}
				backoffMs := 500 * (1 << emptyRetries)
				emptyRetries++
				if serr := d.sleeper.Sleep(ctx, msToDuration(int64(backoffMs))); serr != nil {
					return outcomeNetworkFailed, false, serr
				}

				retryReq, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
				if rerr != nil {
					return outcomeNetworkFailed, false, rerr
				}
				for k, v := range headers {
					retryReq.Header.Set(k, v)
				}
				retryResp, rerr := d.httpClient.Do(retryReq)
				if rerr != nil || retryResp.StatusCode != http.StatusOK {
					if retryResp != nil {
						retryResp.Body.Close()
					}
					lastErr = fmt.Errorf("empty-response retry failed: %v", rerr)
					allRateLimited429 = false
					break requestLoop
				}
				resp = retryResp
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints failed for account %s", acc.Email)
	}

	if sawAny429 && allRateLimited429 {
		d.ledger.MarkRateLimited(acc.Email, req.Model, minResetAt)
		d.persistRateLimit(acc.Email, req.Model, minResetAt)
		utils.RateLimited(acc.Email, req.Model, minResetAt)
		waitMs := minResetAt.Sub(d.clock.Now()).Milliseconds()
		return outcomeRateLimited, false, apierrors.NewResourceExhaustedError(lastErr.Error(), waitMs, acc.Email, req.Model)
	}

	switch lastErr.(type) {
	case *apierrors.AuthInvalidError:
		return outcomeAuthFailed, false, lastErr
	default:
		return outcomeUpstreamFailed, false, lastErr
	}
}

// persistRateLimit best-effort mirrors a rate-limit mark into the on-disk
// account store so the dashboard and a restarted process see it, without
// blocking the dispatch path on disk I/O (spec §5: save() runs outside the
// lock and is fire-and-forget).
func (d *Dispatcher) persistRateLimit(email, model string, resetAt time.Time) {
	go func() {
		_ = d.accounts.UpdateAccount(email, func(a *store.Account) {
			if a.ModelRateLimits == nil {
				a.ModelRateLimits = make(map[string]store.RateLimitState)
			}
			a.ModelRateLimits[model] = store.RateLimitState{IsRateLimited: true, ResetTime: resetAt.UnixMilli()}
		})
	}()
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func bufferedEmptyFallback(model string) *anthropic.MessagesResponse {
	return &anthropic.MessagesResponse{
		ID:         "msg_empty",
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "[No response after retries - please try again]"}},
		StopReason: "end_turn",
		Usage:      &anthropic.Usage{},
	}
}
