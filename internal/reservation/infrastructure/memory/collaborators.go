package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rentlane/internal/common/types"
	"rentlane/internal/reservation/domain"
)

// SentNotification is one notification recorded by Notifier.
type SentNotification struct {
	Type         domain.NotificationType
	Notification domain.Notification
}

// Notifier records every notification instead of delivering it.
type Notifier struct {
	mu   sync.Mutex
	sent []SentNotification
	err  error
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// FailWith makes Send return err until reset with nil.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *Notifier) Send(ctx context.Context, typ domain.NotificationType, payload domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, SentNotification{Type: typ, Notification: payload})
	return nil
}

// Sent returns the recorded notifications of the given type, or all of them
// when typ is empty.
func (n *Notifier) Sent(typ domain.NotificationType) []SentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []SentNotification
	for _, s := range n.sent {
		if typ == "" || s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// Refund is a refund issued through PaymentGateway.
type Refund struct {
	TransactionID string
	Amount        *types.Money
}

// PaymentGateway is a fake payment provider issuing sequential sessions.
type PaymentGateway struct {
	mu        sync.Mutex
	seq       int
	initiated map[string]types.Money
	refs      []string
	refunds   []Refund
	initErr   error
	refundErr error
}

func NewPaymentGateway() *PaymentGateway {
	return &PaymentGateway{initiated: make(map[string]types.Money)}
}

// FailInitiate makes Initiate return err until reset with nil.
func (g *PaymentGateway) FailInitiate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initErr = err
}

// FailRefund makes Refund return err until reset with nil.
func (g *PaymentGateway) FailRefund(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

func (g *PaymentGateway) Initiate(ctx context.Context, amount types.Money, referenceID, callbackURL string) (domain.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return domain.PaymentSession{}, g.initErr
	}
	g.seq++
	txID := fmt.Sprintf("tx-%04d", g.seq)
	g.initiated[txID] = amount
	g.refs = append(g.refs, referenceID)
	return domain.PaymentSession{
		Provider:      "fake",
		TransactionID: txID,
		PaymentURL:    "https://pay.example.test/checkout/" + txID,
	}, nil
}

func (g *PaymentGateway) Refund(ctx context.Context, transactionID string, amount *types.Money) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	if _, ok := g.initiated[transactionID]; !ok {
		return errors.New("unknown transaction " + transactionID)
	}
	g.refunds = append(g.refunds, Refund{TransactionID: transactionID, Amount: amount})
	return nil
}

// Initiations returns the reference id of every checkout opened, in order.
func (g *PaymentGateway) Initiations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refs...)
}

// Refunds returns every refund issued so far.
func (g *PaymentGateway) Refunds() []Refund {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Refund(nil), g.refunds...)
}

// ContractStore keeps rendered contracts in memory.
type ContractStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewContractStore() *ContractStore {
	return &ContractStore{docs: make(map[string][]byte)}
}

func (s *ContractStore) Put(ctx context.Context, key string, doc []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = append([]byte(nil), doc...)
	return "memory://" + key, nil
}

// Keys returns the stored document keys.
func (s *ContractStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	return keys
}

// PageCache records revalidated paths.
type PageCache struct {
	mu    sync.Mutex
	paths []string
}

func NewPageCache() *PageCache {
	return &PageCache{}
}

func (p *PageCache) Revalidate(ctx context.Context, paths ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, paths...)
	return nil
}

// Paths returns every revalidated path in call order.
func (p *PageCache) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// AuthResolver maps fixed credentials to subjects.
type AuthResolver map[string]string

func (a AuthResolver) Resolve(ctx context.Context, credential string) (string, error) {
	subject, ok := a[credential]
	if !ok {
		return "", domain.ErrForbidden.WithMessage("unknown credential")
	}
	return subject, nil
}

var (
	_ domain.NotificationDispatcher = (*Notifier)(nil)
	_ domain.PaymentProvider        = (*PaymentGateway)(nil)
	_ domain.ContractStore          = (*ContractStore)(nil)
	_ domain.PageCache              = (*PageCache)(nil)
	_ domain.AuthResolver           = AuthResolver(nil)
)
