// Package registry implements the Agent Registry (C3): the lifecycle of
// local and remote agent records, remote agent-card validation, and
// auto-extraction of default capability metadata.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/orchestra/internal/a2a"
	"github.com/kadirpekel/orchestra/internal/agentmodel"
	"github.com/kadirpekel/orchestra/internal/capability"
	"github.com/kadirpekel/orchestra/internal/orcherr"
	"github.com/kadirpekel/orchestra/internal/registrystore"
)

// LocalAgent is the minimal invocation surface a reconstructed local
// agent must expose.
type LocalAgent interface {
	Invoke(ctx context.Context, subQuery string) (string, error)
}

// LocalConstructor builds a LocalAgent from a constructor_ref's params.
// Go has no safe in-process equivalent of loading a symbol by string at
// runtime, so constructor_ref.module_path + "." + symbol_name is resolved
// against this compile-time registered map instead.
type LocalConstructor func(params map[string]any) (LocalAgent, error)

// LocalConstructors is the static registry of buildable local agent
// kinds. Callers populate it at program startup, before any dispatch
// resolves a constructor.
var LocalConstructors = map[string]LocalConstructor{}

func constructorKey(ref *agentmodel.ConstructorRef) string {
	return ref.ModulePath + "." + ref.SymbolName
}

// DefaultMaliciousPatterns is the default substring denylist.
var DefaultMaliciousPatterns = []string{
	"drop table", "rm -rf", "privilege_escalation", "exec", "eval", "sudo", "delete_database",
}

// Options configures a Registry.
type Options struct {
	CardFetchTimeout time.Duration
	MaliciousPatterns []string
	RequireTLSForCards bool
}

// Registry is the Agent Registry (C3). It owns no persistence itself;
// every mutation goes through a registrystore.Store, keeping the registry
// file as the single source of truth.
type Registry struct {
	mu sync.Mutex
	store *registrystore.Store
	index *capability.Index
	cards *a2a.Cache
	opts Options
	agents map[string]agentmodel.AgentRecord
	localMu sync.Mutex
	localInst map[string]localCacheEntry
}

// localCacheEntry caches a reconstructed LocalAgent keyed by its
// constructor reference and capability version ("small per-name
// cache keyed by (constructor_ref, capability version)").
type localCacheEntry struct {
	key string
	agent LocalAgent
}

// New loads the registry document from store and builds an in-memory
// Registry, refreshing idx with the initially enabled+dispatchable set.
func New(store *registrystore.Store, idx *capability.Index, cards *a2a.Cache, opts Options) (*Registry, error) {
	if len(opts.MaliciousPatterns) == 0 {
		opts.MaliciousPatterns = DefaultMaliciousPatterns
	}
	if opts.CardFetchTimeout == 0 {
		opts.CardFetchTimeout = 10 * time.Second
	}

	doc, err := store.Load()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store: store,
		index: idx,
		cards: cards,
		opts: opts,
		agents: doc.Agents,
		localInst: make(map[string]localCacheEntry),
	}
	r.refreshIndexLocked()
	return r, nil
}

func (r *Registry) refreshIndexLocked() {
	var dispatchable []agentmodel.AgentRecord
	for _, rec := range r.agents {
		if rec.Dispatchable() {
			dispatchable = append(dispatchable, rec)
		}
	}
	r.index.Refresh(dispatchable)
}

// persistLocked saves the current in-memory map. On failure it restores
// the live file from backup and returns a PersistFailed-wrapped error;
// callers must revert their own in-memory change before returning
// ("the registry never diverges from disk").
func (r *Registry) persistLocked() error {
	doc := &registrystore.Document{
		Version: registrystore.SchemaVersion,
		Agents: r.agents,
	}
	if err := r.store.Save(doc); err != nil {
		if restoreErr := r.store.RestoreFromBackup(); restoreErr != nil {
			return fmt.Errorf("registry: save failed (%v) and restore failed (%v): %w", err, restoreErr, orcherr.ErrPersistFailed)
		}
		return fmt.Errorf("registry: save failed, restored from backup: %v: %w", err, orcherr.ErrPersistFailed)
	}
	return nil
}

// RegisterLocal creates a new, immediately-enabled local record.
func (r *Registry) RegisterLocal(name, description string, cap agentmodel.Capability, ref agentmodel.ConstructorRef, tags []string) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q already registered: %w", name, orcherr.ErrDuplicateName)
	}

	rec := agentmodel.AgentRecord{
		Name: name,
		Description: description,
		Kind: agentmodel.KindLocal,
		Enabled: true,
		Tags: append([]string(nil), tags...),
		Capabilities: cap,
		RegisteredAt: time.Now(),
		ConstructorRef: &ref,
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	r.agents[name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	r.refreshIndexLocked()
	return rec, nil
}

// ExtractedCapability is the auto-extraction result plus validation
// outcome, used both by RegisterRemote and the /agents/discover preview
// endpoint.
type ExtractedCapability struct {
	Name string
	Description string
	Capability agentmodel.Capability
	Card *a2a.AgentCard
	Rejected bool
	Reason orcherr.CardInvalidReason
	MatchedTool string
	MatchedPat string
	// EndpointReachable records the best-effort invocation-endpoint probe
	// (§4.3.1 point 5). A failed probe downgrades confidence only; it
	// never rejects the card.
	EndpointReachable bool
}

// discover fetches, validates, and auto-extracts capability metadata for
// a remote agent card.
func (r *Registry) discover(ctx context.Context, cardURL string) (*ExtractedCapability, error) {
	if r.opts.RequireTLSForCards && !a2a.IsSecureTransport(cardURL) {
		return nil, &orcherr.CardInvalidError{Reason: orcherr.ReasonInsecureTransport, Detail: cardURL}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.CardFetchTimeout)
	defer cancel()

	card, err := r.cards.Get(ctx, cardURL)
	if err != nil {
		return nil, &orcherr.CardInvalidError{Reason: orcherr.ReasonUnreachable, Detail: err.Error()}
	}

	if err := card.Validate(); err != nil {
		return nil, &orcherr.CardInvalidError{Reason: orcherr.ReasonBadSchema, Detail: err.Error()}
	}

	ext := &ExtractedCapability{
		Name: card.Name,
		Description: card.Description,
		Card: card,
		Capability: autoExtract(card),
		EndpointReachable: r.cards.ProbeInvocationEndpoint(ctx, card.Endpoints.Invoke),
	}

	if tool, pattern, ok := matchMalicious(card, r.opts.MaliciousPatterns); ok {
		ext.Rejected = true
		ext.Reason = orcherr.ReasonMaliciousPattern
		ext.MatchedTool = tool
		ext.MatchedPat = pattern
	}

	return ext, nil
}

// Discover previews a remote card's extracted capability and validation
// outcome without persisting anything.
func (r *Registry) Discover(ctx context.Context, cardURL string) (*ExtractedCapability, error) {
	return r.discover(ctx, cardURL)
}

// RegisterRemote fetches, validates, and registers a remote agent,
// merging capabilitiesOverride over the auto-extracted defaults.
func (r *Registry) RegisterRemote(ctx context.Context, cardURL string, capOverride *agentmodel.Capability, provider agentmodel.Provider, auth agentmodel.AuthConfig, tags []string) (agentmodel.AgentRecord, error) {
	ext, err := r.discover(ctx, cardURL)
	if err != nil {
		return agentmodel.AgentRecord{}, err
	}

	cap := ext.Capability
	if capOverride != nil {
		cap = mergeCapability(cap, *capOverride)
	}

	status := agentmodel.StatusPending
	if ext.Rejected {
		status = agentmodel.StatusRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[ext.Name]; exists {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q already registered: %w", ext.Name, orcherr.ErrDuplicateName)
	}

	rec := agentmodel.AgentRecord{
		Name: ext.Name,
		Description: ext.Description,
		Kind: agentmodel.KindRemote,
		Enabled: false,
		Tags: append([]string(nil), tags...),
		Capabilities: cap,
		RegisteredAt: time.Now(),
		AgentCardURL: cardURL,
		Provider: &provider,
		AuthConfig: &auth,
		Status: status,
	}
	if !ext.EndpointReachable {
		// Downgrade, don't reject: a failed invocation-endpoint probe is
		// recorded for the approving admin to see, not a rejection reason.
		rec.Metadata = map[string]string{"endpoint_probe": "unreachable"}
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	r.agents[ext.Name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	r.refreshIndexLocked()

	if ext.Rejected {
		return rec, &orcherr.CardInvalidError{
			Reason: orcherr.ReasonMaliciousPattern,
			MatchedTool: ext.MatchedTool,
			MatchedPattern: ext.MatchedPat,
		}
	}
	return rec, nil
}

// List returns enabled_only/tags-filtered records, sorted by name.
func (r *Registry) List(enabledOnly bool, tags []string) []agentmodel.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]agentmodel.AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		if enabledOnly && !rec.Enabled {
			continue
		}
		if len(tags) > 0 && !hasAllTags(rec.Tags, tags) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named record.
func (r *Registry) Get(name string) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[name]
	if !ok {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}
	return rec.Clone(), nil
}

// SetMetadata fully replaces the named record's metadata map, used to
// stamp the registering caller as owner_user_id.
func (r *Registry) SetMetadata(name string, meta map[string]string) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[name]
	if !ok {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	rec.Metadata = meta
	r.agents[name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	return rec.Clone(), nil
}

// UpdateCapabilities fully replaces the named record's capabilities.
func (r *Registry) UpdateCapabilities(name string, cap agentmodel.Capability) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[name]
	if !ok {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	rec.Capabilities = cap
	r.agents[name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	r.refreshIndexLocked()
	return rec.Clone(), nil
}

// SetEnabled toggles enablement. Setting the current value is a no-op
// success.
func (r *Registry) SetEnabled(name string, enabled bool) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[name]
	if !ok {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}
	if rec.Enabled == enabled {
		return rec.Clone(), nil
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	rec.Enabled = enabled
	r.agents[name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	r.refreshIndexLocked()
	return rec.Clone(), nil
}

// legalTransitions is the remote status state machine.
var legalTransitions = map[agentmodel.RemoteStatus]map[agentmodel.RemoteStatus]bool{
	agentmodel.StatusPending: {agentmodel.StatusApproved: true, agentmodel.StatusRejected: true},
	agentmodel.StatusApproved: {agentmodel.StatusSuspended: true},
	agentmodel.StatusSuspended: {agentmodel.StatusApproved: true},
	agentmodel.StatusRejected: {},
}

// SetStatus transitions a remote record's status. Remote-only; fails
// IllegalTransition outside the state machine; setting the current
// status is an idempotent no-op.
func (r *Registry) SetStatus(name string, status agentmodel.RemoteStatus) (agentmodel.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[name]
	if !ok {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}
	if rec.Kind != agentmodel.KindRemote {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: agent %q is not remote: %w", name, orcherr.ErrIllegalTransition)
	}
	if rec.Status == status {
		return rec.Clone(), nil
	}
	if !legalTransitions[rec.Status][status] {
		return agentmodel.AgentRecord{}, fmt.Errorf("registry: %s -> %s not permitted: %w", rec.Status, status, orcherr.ErrIllegalTransition)
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	rec.Status = status
	if status == agentmodel.StatusApproved {
		// Enabled defaults to false at register_remote time (status=pending);
		// approval is the documented lifecycle step that makes a remote
		// record routable, so it also flips Enabled on.
		rec.Enabled = true
	}
	r.agents[name] = rec
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return agentmodel.AgentRecord{}, err
	}
	r.refreshIndexLocked()
	return rec.Clone(), nil
}

// Delete removes a record.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("registry: agent %q: %w", name, orcherr.ErrNotFound)
	}

	prev := r.agents
	r.agents = cloneMap(r.agents)
	delete(r.agents, name)
	if err := r.persistLocked(); err != nil {
		r.agents = prev
		return err
	}
	r.refreshIndexLocked()
	return nil
}

func cloneMap(m map[string]agentmodel.AgentRecord) map[string]agentmodel.AgentRecord {
	out := make(map[string]agentmodel.AgentRecord, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = true
	}
	for _, t := range want {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

var leadingVerbs = map[string]bool{
	"get": true, "list": true, "create": true, "update": true,
	"delete": true, "search": true, "analyze": true,
}

// autoExtract derives default Capability metadata from a card's tool
// names, descriptions, and tags.
func autoExtract(card *a2a.AgentCard) agentmodel.Capability {
	var operations, entities, keywords []string
	seenOp, seenEnt, seenKw := map[string]bool{}, map[string]bool{}, map[string]bool{}

	for _, tool := range card.Capabilities.Tools {
		tokens := splitTokens(tool.Name)
		if len(tokens) > 0 && leadingVerbs[tokens[0]] {
			if !seenOp[tokens[0]] {
				operations = append(operations, tokens[0])
				seenOp[tokens[0]] = true
			}
			tokens = tokens[1:]
		}
		for _, tok := range tokens {
			if !seenEnt[tok] {
				entities = append(entities, tok)
				seenEnt[tok] = true
			}
		}
		for _, tok := range splitTokens(tool.Description) {
			if len(tok) < 3 {
				continue
			}
			if !seenKw[tok] {
				keywords = append(keywords, tok)
				seenKw[tok] = true
			}
		}
	}

	domains := append([]string(nil), card.Tags...)
	for i, d := range domains {
		domains[i] = strings.ToLower(d)
	}

	return agentmodel.Capability{
		Domains: domains,
		Operations: operations,
		Entities: entities,
		Keywords: keywords,
	}
}

func splitTokens(s string) []string {
	f := func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' ' || r == '/'
	}
	var out []string
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), f) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// mergeCapability applies override's non-empty fields over base: a
// caller-supplied capabilities override wins per field.
func mergeCapability(base, override agentmodel.Capability) agentmodel.Capability {
	out := base
	if override.Domains != nil {
		out.Domains = override.Domains
	}
	if override.Operations != nil {
		out.Operations = override.Operations
	}
	if override.Entities != nil {
		out.Entities = override.Entities
	}
	if override.Keywords != nil {
		out.Keywords = override.Keywords
	}
	if override.Examples != nil {
		out.Examples = override.Examples
	}
	out.RequiresAuth = override.RequiresAuth
	if override.Priority != 0 {
		out.Priority = override.Priority
	}
	return out
}

// ResolveLocal reconstructs (or returns a cached instance of) the local
// agent named by rec's constructor_ref. The cache key folds in a hash of
// the capability set so a capability update invalidates the cached
// instance.
func (r *Registry) ResolveLocal(rec agentmodel.AgentRecord) (LocalAgent, error) {
	if rec.Kind != agentmodel.KindLocal || rec.ConstructorRef == nil {
		return nil, fmt.Errorf("registry: %q has no constructor_ref: %w", rec.Name, orcherr.ErrNotFound)
	}

	key := constructorKey(rec.ConstructorRef) + "@" + capabilityFingerprint(rec.Capabilities)

	r.localMu.Lock()
	defer r.localMu.Unlock()

	if entry, ok := r.localInst[rec.Name]; ok && entry.key == key {
		return entry.agent, nil
	}

	ctor, ok := LocalConstructors[constructorKey(rec.ConstructorRef)]
	if !ok {
		return nil, fmt.Errorf("registry: no constructor registered for %q", constructorKey(rec.ConstructorRef))
	}
	agent, err := ctor(rec.ConstructorRef.Params)
	if err != nil {
		return nil, fmt.Errorf("registry: construct %q: %w", rec.Name, err)
	}
	r.localInst[rec.Name] = localCacheEntry{key: key, agent: agent}
	return agent, nil
}

func capabilityFingerprint(c agentmodel.Capability) string {
	return strings.Join([]string{
			strings.Join(c.Domains, ","),
			strings.Join(c.Operations, ","),
			strings.Join(c.Entities, ","),
			strings.Join(c.Keywords, ","),
		}, "|")
}

// matchMalicious reports the first tool name/description matching a
// malicious pattern, case-insensitive substring. Underscores count as
// spaces on both sides, so "drop table" also matches "drop_table_users".
func matchMalicious(card *a2a.AgentCard, patterns []string) (tool, pattern string, matched bool) {
	for _, t := range card.Capabilities.Tools {
		hay := strings.ToLower(strings.ReplaceAll(t.Name+" "+t.Description, "_", " "))
		for _, p := range patterns {
			if strings.Contains(hay, strings.ToLower(strings.ReplaceAll(p, "_", " "))) {
				return t.Name, p, true
			}
		}
	}
	return "", "", false
}
