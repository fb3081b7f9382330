// Package rta implements the real-time-application redirection registry
// (C6): supernodes register themselves and the recipient ids they serve,
// and any node in the network can look up which supernode(s) currently
// serve a recipient and forward an RTA payload to them over HTTP
// (spec.md §4.6, grounded in the Graft supernode core's register/lookup
// design in original_source/src/supernode/core.h).
package rta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/graft-project/graftd/internal/clock"
	"github.com/graft-project/graftd/internal/log"
	"github.com/graft-project/graftd/storage/routelog"
)

var logger = log.NewModuleLogger(log.ModuleRTA)

// DefaultTTL is the redirect timeout used when a caller registers a
// supernode without specifying redirect_timeout_ms.
const DefaultTTL = 5 * time.Minute

var (
	ErrUnknownSupernode = errors.New("rta: unknown supernode id")
	ErrUnknownRecipient = errors.New("rta: no route for recipient")
)

// Supernode is one registered RTA endpoint (spec.md §3's "local supernode
// item"): an HTTP client target parsed out of the registration URL, plus
// the redirect path and the TTL this item's registration grants it.
type Supernode struct {
	ID                string
	URL               string // as registered, unparsed
	Host              string // host:port parsed from URL, used to dial
	RedirectURI       string // path POSTed to, e.g. "/rta"
	RedirectTimeoutMS int64

	expiresAt time.Time
}

// route is one entry in a recipient's ordered sequence of supernode
// references (spec.md §3's "redirect record").
type route struct {
	supernodeID string
	expiresAt   time.Time
}

// Registry is the RTA redirection table (C6). It uses its own mutex
// independent of the peer table's, per spec.md §3's ownership model, so an
// HTTP-triggered registration never blocks the network loop.
type Registry struct {
	clock clock.Clock
	log   *routelog.Log // optional, may be nil

	mu         sync.Mutex
	supernodes map[string]*Supernode
	routes     map[string][]route // recipient_id -> ordered sequence

	client *http.Client
}

// New creates a Registry. rlog may be nil to run without durable storage.
func New(clk clock.Clock, rlog *routelog.Log) *Registry {
	return &Registry{
		clock:      clk,
		log:        rlog,
		supernodes: make(map[string]*Supernode),
		routes:     make(map[string][]route),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// LoadDurable repopulates routes from the route log at startup, before any
// supernode has re-registered (SPEC_FULL.md C6). Loaded routes reference
// supernode ids that are not yet present in r.supernodes; a Lookup made
// while the supernode is still unregistered drops them at once, and GC
// drops them once their own expiry passes.
func (r *Registry) LoadDurable() error {
	if r.log == nil {
		return nil
	}
	records, err := r.log.LoadAll()
	if err != nil {
		return fmt.Errorf("rta: load durable routes: %w", err)
	}
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if rec.ExpiresAt <= now.Unix() {
			continue
		}
		r.routes[rec.RecipientID] = append(r.routes[rec.RecipientID], route{
			supernodeID: rec.SupernodeID,
			expiresAt:   time.Unix(rec.ExpiresAt, 0),
		})
	}
	return nil
}

// RegisterSupernode registers or refreshes a supernode's RTA endpoint, per
// spec.md §4.6: parse rawURL into a dialable host, store redirectURI as
// the path future redirects POST to, and set expiry_time = now +
// redirect_timeout_ms. redirectTimeoutMS <= 0 falls back to DefaultTTL.
// A prior registration under the same id, if any, is simply replaced:
// this registry dials with a shared stateless http.Client rather than a
// persistent per-supernode connection, so there is no prior client
// handle to explicitly disconnect.
func (r *Registry) RegisterSupernode(id, rawURL, redirectURI string, redirectTimeoutMS int64) error {
	if id == "" || rawURL == "" {
		return fmt.Errorf("rta: id and url are required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("rta: invalid supernode url %q", rawURL)
	}
	if redirectURI == "" {
		redirectURI = "/rta"
	}
	if redirectTimeoutMS <= 0 {
		redirectTimeoutMS = DefaultTTL.Milliseconds()
	}
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supernodes[id] = &Supernode{
		ID:                id,
		URL:               rawURL,
		Host:              u.Host,
		RedirectURI:       redirectURI,
		RedirectTimeoutMS: redirectTimeoutMS,
		expiresAt:         now.Add(time.Duration(redirectTimeoutMS) * time.Millisecond),
	}
	return nil
}

// CheckSupernodeID reports whether id is currently registered and
// unexpired. On finding it expired, it performs the full cleanup spec.md
// §4.6 requires: the supernode item and every redirect record referencing
// it are dropped, not just the expired item itself.
func (r *Registry) CheckSupernodeID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sn, ok := r.supernodes[id]
	if !ok {
		return false
	}
	if r.clock.Now().Before(sn.expiresAt) {
		return true
	}
	delete(r.supernodes, id)
	r.pruneRoutesToLocked(id)
	return false
}

// pruneRoutesToLocked removes every route entry referencing supernodeID,
// deleting the recipient's record entirely once its sequence is empty
// (spec.md §3: "a recipient_id with an empty sequence is removed").
// Caller must hold r.mu.
func (r *Registry) pruneRoutesToLocked(supernodeID string) {
	for recipientID, entries := range r.routes {
		kept := entries[:0]
		for _, e := range entries {
			if e.supernodeID != supernodeID {
				kept = append(kept, e)
			} else {
				r.deleteDurable(recipientID, supernodeID)
			}
		}
		if len(kept) == 0 {
			delete(r.routes, recipientID)
		} else {
			r.routes[recipientID] = kept
		}
	}
}

// AddRoute appends or refreshes a redirect record pointing recipientID at
// supernodeID (spec.md §4.6): if supernodeID is already in recipientID's
// sequence its expiry is refreshed in place, else it is appended.
func (r *Registry) AddRoute(recipientID, supernodeID string) error {
	if !r.CheckSupernodeID(supernodeID) {
		return ErrUnknownSupernode
	}
	expiresAt := r.clock.Now().Add(DefaultTTL)

	r.mu.Lock()
	entries := r.routes[recipientID]
	refreshed := false
	for i := range entries {
		if entries[i].supernodeID == supernodeID {
			entries[i].expiresAt = expiresAt
			refreshed = true
			break
		}
	}
	if !refreshed {
		entries = append(entries, route{supernodeID: supernodeID, expiresAt: expiresAt})
	}
	r.routes[recipientID] = entries
	r.mu.Unlock()

	r.putDurable(recipientID, supernodeID, expiresAt.Unix())
	return nil
}

// Lookup returns every supernode currently serving recipientID, per
// spec.md §4.6's `lookup(recipient_id) -> list<supernode_item>`. Each call
// also garbage-collects any expired route entries and orphaned supernode
// references it encounters along the way (the invariant in §4.6 is
// enforced lazily here rather than by a separate reaper).
func (r *Registry) Lookup(recipientID string) ([]*Supernode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.routes[recipientID]
	if len(entries) == 0 {
		return nil, ErrUnknownRecipient
	}

	now := r.clock.Now()
	var live []*Supernode
	kept := entries[:0]
	for _, e := range entries {
		if now.After(e.expiresAt) {
			r.deleteDurable(recipientID, e.supernodeID)
			continue
		}
		sn, ok := r.supernodes[e.supernodeID]
		if !ok || now.After(sn.expiresAt) {
			if ok {
				delete(r.supernodes, e.supernodeID)
			}
			r.deleteDurable(recipientID, e.supernodeID)
			continue
		}
		kept = append(kept, e)
		live = append(live, sn)
	}
	if len(kept) == 0 {
		delete(r.routes, recipientID)
		return nil, ErrUnknownRecipient
	}
	r.routes[recipientID] = kept
	return live, nil
}

// AllSupernodes returns every currently registered, unexpired supernode,
// for spec.md §4.5 step 4's recipient-less broadcast fan-out ("if absent,
// POST to every registered local supernode").
func (r *Registry) AllSupernodes() []*Supernode {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	out := make([]*Supernode, 0, len(r.supernodes))
	for id, sn := range r.supernodes {
		if now.After(sn.expiresAt) {
			delete(r.supernodes, id)
			r.pruneRoutesToLocked(id)
			continue
		}
		out = append(out, sn)
	}
	return out
}

func (r *Registry) putDurable(recipientID, supernodeID string, expiresAt int64) {
	if r.log == nil {
		return
	}
	if err := r.log.Put(recipientID, supernodeID, expiresAt); err != nil {
		logger.Warn("failed to persist route", "recipient", recipientID, "supernode", supernodeID, "err", err)
	}
}

// deleteDurable must be called with r.mu held; it only touches the
// on-disk log, never the in-memory maps.
func (r *Registry) deleteDurable(recipientID, supernodeID string) {
	if r.log == nil {
		return
	}
	if err := r.log.Delete(recipientID, supernodeID); err != nil {
		logger.Warn("failed to delete expired route", "recipient", recipientID, "supernode", supernodeID, "err", err)
	}
}

// jsonRPCRequest is the envelope used for RTA redirect HTTP bodies
// (Open Question resolution: always JSON-RPC 2.0, regardless of method).
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Redirect forwards payload, wrapped in a JSON-RPC 2.0 envelope, to every
// supernode currently serving recipientID. It returns the first error
// encountered but still attempts every supernode in the list.
func (r *Registry) Redirect(ctx context.Context, recipientID string, method string, payload []byte) error {
	sns, err := r.Lookup(recipientID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, sn := range sns {
		if err := r.redirectTo(ctx, sn, method, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) redirectTo(ctx context.Context, sn *Supernode, method string, payload []byte) error {
	req := jsonRPCRequest{JSONRPC: "2.0", ID: sn.ID, Method: method, Params: payload}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+sn.Host+sn.RedirectURI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rta: redirect to %s: %w", sn.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rta: supernode %s returned status %d", sn.ID, resp.StatusCode)
	}
	return nil
}

// GC drops expired supernodes and their orphaned routes. Intended to be
// driven by the connection manager's T_store tick or a dedicated ticker.
func (r *Registry) GC() {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sn := range r.supernodes {
		if now.After(sn.expiresAt) {
			delete(r.supernodes, id)
			r.pruneRoutesToLocked(id)
		}
	}
	for rid, entries := range r.routes {
		kept := entries[:0]
		for _, e := range entries {
			if now.After(e.expiresAt) {
				r.deleteDurable(rid, e.supernodeID)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.routes, rid)
		} else {
			r.routes[rid] = kept
		}
	}
}
