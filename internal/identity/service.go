package identity

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yksanjo/agent-identity-hub/internal/storage"
)

// defaultResolveTimeout bounds the external resolver call for non-local DIDs.
const defaultResolveTimeout = 5 * time.Second

// Resolver resolves DIDs the hub does not own, against an external ledger
// or universal resolver.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*DIDDocument, error)
}

// Service manages DID documents for hub-registered agents. A write-through
// document cache sits over the durable store; a miss always falls through
// to storage, never to an error.
type Service struct {
	db             *storage.DB
	resolver       Resolver
	resolveTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]*DIDDocument
}

// NewService creates a DID service. resolver may be nil, in which case
// non-local DIDs resolve to not-found.
func NewService(db *storage.DB, resolver Resolver) *Service {
	return &Service{
		db:             db,
		resolver:       resolver,
		resolveTimeout: defaultResolveTimeout,
		cache:          make(map[string]*DIDDocument),
	}
}

// CreatedDID bundles the output of CreateDID. PrivateKey is set only when
// the service generated the keypair itself.
type CreatedDID struct {
	DID        string
	Document   *DIDDocument
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// CreateDID constructs a DID and its document for the given method. If pub
// is nil a fresh Ed25519 keypair is generated. The document is not persisted
// here; registration happens atomically with agent creation (see Register).
func (s *Service) CreateDID(method string, pub ed25519.PublicKey, services []ServiceEndpoint) (*CreatedDID, error) {
	if !supportedMethods[method] {
		return nil, didErrorf(CodeUnsupportedMethod, "unsupported did method %q", method)
	}

	var priv ed25519.PrivateKey
	if pub == nil {
		var err error
		pub, priv, err = ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate did keypair: %w", err)
		}
	} else if len(pub) != ed25519.PublicKeySize {
		return nil, didErrorf(CodeValidation, "public key length %d, want %d", len(pub), ed25519.PublicKeySize)
	}

	did := deriveDID(method, pub)
	now := time.Now().Unix()
	vmID := did + "#key-1"
	doc := &DIDDocument{
		ID:         did,
		Controller: did,
		VerificationMethod: []VerificationMethod{{
			ID:           vmID,
			Type:         Ed25519VerificationKey2020,
			Controller:   did,
			PublicKeyHex: hex.EncodeToString(pub),
		}},
		Authentication:  []string{vmID},
		AssertionMethod: []string{vmID},
		Service:         services,
		Created:         now,
		Updated:         now,
	}

	return &CreatedDID{DID: did, Document: doc, PublicKey: pub, PrivateKey: priv}, nil
}

// EncodeDocument serializes a document for storage in the identity row.
func EncodeDocument(doc *DIDDocument) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode did document: %w", err)
	}
	return b, nil
}

// Register caches a freshly persisted document. Call after the agent
// creation transaction commits.
func (s *Service) Register(doc *DIDDocument) {
	s.mu.Lock()
	s.cache[doc.ID] = doc
	s.mu.Unlock()
}

// Resolution is the envelope returned by ResolveDID. Expected negative
// outcomes surface as an error code, never as a Go error.
type Resolution struct {
	Document *DIDDocument       `json:"didDocument"`
	Metadata ResolutionMetadata `json:"didResolutionMetadata"`
}

// ResolutionMetadata describes how (or why not) a DID resolved.
type ResolutionMetadata struct {
	Source     string `json:"source,omitempty"` // "local" or "external"
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
	Error      string `json:"error,omitempty"` // "notFound" or "invalidDid"
}

// ResolveDID resolves a DID, consulting the local store first (authoritative
// for hub-issued DIDs) and falling back to the external resolver. Resolver
// failures and timeouts degrade to notFound rather than propagating.
func (s *Service) ResolveDID(ctx context.Context, did string) *Resolution {
	if _, _, err := ParseDID(did); err != nil {
		return &Resolution{Metadata: ResolutionMetadata{Error: "invalidDid"}}
	}

	if doc := s.lookupLocal(did); doc != nil {
		return &Resolution{
			Document: doc,
			Metadata: ResolutionMetadata{Source: "local", ResolvedAt: time.Now().Unix()},
		}
	}

	if s.resolver != nil {
		rctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
		defer cancel()
		doc, err := s.resolver.Resolve(rctx, did)
		if err == nil && doc != nil {
			return &Resolution{
				Document: doc,
				Metadata: ResolutionMetadata{Source: "external", ResolvedAt: time.Now().Unix()},
			}
		}
		if err != nil {
			log.Printf("[did] external resolve %s: %v", did, err)
		}
	}

	return &Resolution{Metadata: ResolutionMetadata{Error: "notFound"}}
}

// lookupLocal returns the locally stored document for a DID, consulting the
// cache first and falling through to the store on a miss.
func (s *Service) lookupLocal(did string) *DIDDocument {
	s.mu.RLock()
	doc, ok := s.cache[did]
	s.mu.RUnlock()
	if ok {
		return doc
	}

	ident, err := s.db.GetIdentity(did)
	if err != nil {
		return nil
	}
	doc = &DIDDocument{}
	if err := json.Unmarshal(ident.Document, doc); err != nil {
		log.Printf("[did] corrupt document for %s: %v", did, err)
		return nil
	}

	s.mu.Lock()
	s.cache[did] = doc
	s.mu.Unlock()
	return doc
}

// AddVerificationMethod appends a verification method to a local DID
// document. The method id defaults to the next #key-N fragment.
func (s *Service) AddVerificationMethod(did string, vm VerificationMethod) (*DIDDocument, error) {
	doc := s.lookupLocal(did)
	if doc == nil {
		return nil, didErrorf(CodeNotFound, "did %s not found", did)
	}
	if vm.PublicKeyHex == "" {
		return nil, didErrorf(CodeValidation, "verification method requires a public key")
	}
	if vm.Type == "" {
		vm.Type = Ed25519VerificationKey2020
	}
	if vm.Controller == "" {
		vm.Controller = did
	}
	if vm.ID == "" {
		vm.ID = fmt.Sprintf("%s#key-%d", did, len(doc.VerificationMethod)+1)
	}

	updated := *doc
	updated.VerificationMethod = append(append([]VerificationMethod{}, doc.VerificationMethod...), vm)
	updated.Updated = time.Now().Unix()

	if err := s.persist(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddServiceEndpoint appends a service endpoint to a local DID document.
// A duplicate endpoint id is a conflict, not a merge.
func (s *Service) AddServiceEndpoint(did string, ep ServiceEndpoint) (*DIDDocument, error) {
	doc := s.lookupLocal(did)
	if doc == nil {
		return nil, didErrorf(CodeNotFound, "did %s not found", did)
	}
	if ep.ID == "" || ep.ServiceEndpoint == "" {
		return nil, didErrorf(CodeValidation, "service endpoint requires id and serviceEndpoint")
	}
	for _, existing := range doc.Service {
		if existing.ID == ep.ID {
			return nil, didErrorf(CodeConflict, "service endpoint %s already exists", ep.ID)
		}
	}

	updated := *doc
	updated.Service = append(append([]ServiceEndpoint{}, doc.Service...), ep)
	updated.Updated = time.Now().Unix()

	if err := s.persist(&updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// persist writes a mutated document through to the store and cache. The
// document id never changes across mutations.
func (s *Service) persist(doc *DIDDocument) error {
	raw, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.db.UpdateIdentityDocument(doc.ID, raw, doc.Updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return didErrorf(CodeNotFound, "did %s not found", doc.ID)
		}
		return err
	}
	s.mu.Lock()
	s.cache[doc.ID] = doc
	s.mu.Unlock()
	return nil
}

// DeactivateDID removes the local document. Irreversible: subsequent
// resolution reports notFound.
func (s *Service) DeactivateDID(did string) error {
	if err := s.db.DeleteIdentity(did); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return didErrorf(CodeNotFound, "did %s not found", did)
		}
		return err
	}
	s.mu.Lock()
	delete(s.cache, did)
	s.mu.Unlock()
	return nil
}

// Evict drops a DID from the document cache. Used when an agent is deleted
// through the store rather than DeactivateDID.
func (s *Service) Evict(did string) {
	s.mu.Lock()
	delete(s.cache, did)
	s.mu.Unlock()
}

// VerifyOwnership checks a hex-encoded signature over the SHA3-256 digest
// of message against the DID's primary verification key.
func (s *Service) VerifyOwnership(ctx context.Context, did string, message []byte, sigHex string) (bool, error) {
	res := s.ResolveDID(ctx, did)
	if res.Document == nil {
		return false, didErrorf(CodeNotFound, "did %s not found", did)
	}
	pub, vmType, err := res.Document.primaryKey()
	if err != nil {
		return false, didErrorf(CodeValidation, "%v", err)
	}
	switch vmType {
	case Ed25519VerificationKey2020:
		return verifyEd25519(pub, message, sigHex), nil
	default:
		return false, didErrorf(CodeValidation, "unsupported verification method type %q", vmType)
	}
}

// ListLocal returns all DIDs registered with this hub.
func (s *Service) ListLocal() ([]string, error) {
	return s.db.ListIdentityDIDs()
}
