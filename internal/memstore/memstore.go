// Package memstore — хранилище в памяти с теми же контрактами, что у репозиториев
// на PostgreSQL. Используется в тестах сервисов и контроллера допуска.
//
// Транзакция здесь одна на всё хранилище: WithinLocks забирает глобальную
// блокировку, снимает копию всех таблиц и восстанавливает её, если fn вернула
// ошибку. Операции вне транзакции ждут её завершения, поэтому откат
// не затирает чужие записи.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dawinz/learn-earn-backend/internal/common"
	"github.com/Dawinz/learn-earn-backend/internal/features/cooldown"
	"github.com/Dawinz/learn-earn-backend/internal/features/earnings"
	"github.com/Dawinz/learn-earn-backend/internal/features/identity"
	"github.com/Dawinz/learn-earn-backend/internal/features/payouts"
	"github.com/Dawinz/learn-earn-backend/internal/features/settings"
)

// errUniqueViolation — аналог нарушения частичного уникального индекса кулдаунов.
var errUniqueViolation = errors.New("memstore: active cooldown already exists")

type txKey struct{}

type nonceKey struct {
	deviceID string
	nonce    string
}

type tables struct {
	devices   map[string]identity.Device
	nonces    map[nonceKey]time.Time
	cooldowns []cooldown.Entry
	earnings  []earnings.Event
	payouts   []payouts.Request
	settings  settings.Settings
	nextID    int64
}

func (t *tables) clone() tables {
	c := *t
	c.devices = make(map[string]identity.Device, len(t.devices))
	for k, v := range t.devices {
		c.devices[k] = v
	}
	c.nonces = make(map[nonceKey]time.Time, len(t.nonces))
	for k, v := range t.nonces {
		c.nonces[k] = v
	}
	c.cooldowns = append([]cooldown.Entry(nil), t.cooldowns...)
	c.earnings = append([]earnings.Event(nil), t.earnings...)
	c.payouts = append([]payouts.Request(nil), t.payouts...)
	return c
}

// DB — всё хранилище целиком.
type DB struct {
	mu   sync.Mutex
	data tables

	failMu sync.Mutex
	fail   error

	commits   int
	rollbacks int
}

// New создаёт пустое хранилище с настройками по умолчанию.
func New() *DB {
	return &DB{data: tables{
		devices:  make(map[string]identity.Device),
		nonces:   make(map[nonceKey]time.Time),
		settings: settings.Defaults(),
	}}
}

// Break заставляет все операции возвращать err. Break(nil) чинит хранилище.
func (db *DB) Break(err error) {
	db.failMu.Lock()
	db.fail = err
	db.failMu.Unlock()
}

func (db *DB) broken() error {
	db.failMu.Lock()
	defer db.failMu.Unlock()
	return db.fail
}

// enter захватывает хранилище, если вызов не внутри транзакции.
func (db *DB) enter(ctx context.Context) (func(), error) {
	if err := db.broken(); err != nil {
		return nil, err
	}
	if ctx.Value(txKey{}) != nil {
		return func() {}, nil
	}
	db.mu.Lock()
	return db.mu.Unlock, nil
}

// WithinLocks реализует common.Transactor. Ключи не нужны: блокировка одна.
func (db *DB) WithinLocks(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	if err := db.broken(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	saved := db.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		db.data = saved
		db.rollbacks++
		return err
	}
	db.commits++
	return nil
}

// Stats возвращает число зафиксированных и откатанных транзакций.
func (db *DB) Stats() (commits, rollbacks int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits, db.rollbacks
}

// Identity — хранилище устройств и nonce.
func (db *DB) Identity() *Identity { return &Identity{db: db} }

// Cooldowns — журнал кулдаунов.
func (db *DB) Cooldowns() *Cooldowns { return &Cooldowns{db: db} }

// Earnings — журнал начислений.
func (db *DB) Earnings() *Earnings { return &Earnings{db: db} }

// Settings — строка настроек.
func (db *DB) Settings() *Settings { return &Settings{db: db} }

// Payouts — заявки на выплату. Он же Ledger для бюджета.
func (db *DB) Payouts() *Payouts { return &Payouts{db: db} }

// Identity реализует identity.Store.
type Identity struct{ db *DB }

func (s *Identity) CreateDevice(ctx context.Context, d *identity.Device) (bool, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	if _, ok := s.db.data.devices[d.DeviceID]; ok {
		return false, nil
	}
	s.db.data.devices[d.DeviceID] = *d
	return true, nil
}

func (s *Identity) GetDevice(ctx context.Context, deviceID string) (*identity.Device, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, ok := s.db.data.devices[deviceID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &d, nil
}

func (s *Identity) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if d, ok := s.db.data.devices[deviceID]; ok {
		d.LastActiveAt = at
		s.db.data.devices[deviceID] = d
	}
	return nil
}

func (s *Identity) SetDeviceStatus(ctx context.Context, deviceID string, status identity.Status) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	d, ok := s.db.data.devices[deviceID]
	if !ok {
		return common.ErrNotFound
	}
	d.Status = status
	s.db.data.devices[deviceID] = d
	return nil
}

func (s *Identity) SetDestination(ctx context.Context, deviceID, hash string, lockedUntil, now time.Time) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	d, ok := s.db.data.devices[deviceID]
	if !ok {
		return common.ErrNotFound
	}
	if d.PayoutDestinationHash != nil && d.DestinationLockedUntil != nil && d.DestinationLockedUntil.After(now) {
		return common.ErrDestinationLocked
	}
	d.PayoutDestinationHash = &hash
	d.DestinationLockedUntil = &lockedUntil
	s.db.data.devices[deviceID] = d
	return nil
}

func (s *Identity) ConsumeNonce(ctx context.Context, deviceID, nonce string, now, expiresAt time.Time) (bool, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	key := nonceKey{deviceID: deviceID, nonce: nonce}
	if exp, ok := s.db.data.nonces[key]; ok && exp.After(now) {
		return false, nil
	}
	s.db.data.nonces[key] = expiresAt
	return true, nil
}

func (s *Identity) ReleaseNonce(ctx context.Context, deviceID, nonce string) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	delete(s.db.data.nonces, nonceKey{deviceID: deviceID, nonce: nonce})
	return nil
}

func (s *Identity) PurgeExpiredNonces(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for k, exp := range s.db.data.nonces {
		if !exp.After(now) {
			delete(s.db.data.nonces, k)
			n++
		}
	}
	return n, nil
}

// Cooldowns реализует cooldown.Store.
type Cooldowns struct{ db *DB }

func (s *Cooldowns) FindActive(ctx context.Context, deviceID string, action cooldown.ActionKind) (*cooldown.Entry, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, e := range s.db.data.cooldowns {
		if e.IsActive && e.DeviceID == deviceID && e.Action == action {
			return &e, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *Cooldowns) DeactivateActive(ctx context.Context, deviceID string, action cooldown.ActionKind, _ time.Time) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for i := range s.db.data.cooldowns {
		e := &s.db.data.cooldowns[i]
		if e.IsActive && e.DeviceID == deviceID && e.Action == action {
			e.IsActive = false
		}
	}
	return nil
}

// Insert повторяет частичный уникальный индекс (device_id, action) WHERE is_active.
func (s *Cooldowns) Insert(ctx context.Context, e *cooldown.Entry) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for _, existing := range s.db.data.cooldowns {
		if existing.IsActive && existing.DeviceID == e.DeviceID && existing.Action == e.Action {
			return errUniqueViolation
		}
	}
	s.db.data.cooldowns = append(s.db.data.cooldowns, *e)
	return nil
}

func (s *Cooldowns) Deactivate(ctx context.Context, id uuid.UUID, _ time.Time) (*cooldown.Entry, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for i := range s.db.data.cooldowns {
		e := &s.db.data.cooldowns[i]
		if e.ID == id {
			e.IsActive = false
			out := *e
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *Cooldowns) ListActive(ctx context.Context, deviceID string, now time.Time) ([]cooldown.Entry, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []cooldown.Entry
	for _, e := range s.db.data.cooldowns {
		if e.IsActive && e.DeviceID == deviceID && e.EndsAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	return out, nil
}

func (s *Cooldowns) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for i := range s.db.data.cooldowns {
		e := &s.db.data.cooldowns[i]
		if e.IsActive && !e.EndsAt.After(now) {
			e.IsActive = false
			n++
		}
	}
	return n, nil
}

// Earnings реализует earnings.Store.
type Earnings struct{ db *DB }

func (s *Earnings) SumBetween(ctx context.Context, deviceID string, from, to time.Time) (earnings.Totals, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return earnings.Totals{}, err
	}
	defer unlock()

	t := earnings.Totals{USD: decimal.Zero}
	for _, e := range s.db.data.earnings {
		if e.DeviceID == deviceID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			t.USD = t.USD.Add(e.USD)
			t.Coins += e.Coins
			t.Count++
		}
	}
	return t, nil
}

func (s *Earnings) HasRef(ctx context.Context, deviceID string, source earnings.Source, refID string) (bool, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	for _, e := range s.db.data.earnings {
		if e.DeviceID == deviceID && e.Source == source && e.RefID == refID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Earnings) Insert(ctx context.Context, e *earnings.Event) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s.db.data.nextID++
	e.ID = s.db.data.nextID
	s.db.data.earnings = append(s.db.data.earnings, *e)
	return nil
}

// All возвращает копию журнала начислений (для проверок в тестах).
func (s *Earnings) All() []earnings.Event {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]earnings.Event(nil), s.db.data.earnings...)
}

// Settings реализует settings.Store.
type Settings struct{ db *DB }

func (s *Settings) Get(ctx context.Context) (settings.Settings, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return settings.Settings{}, err
	}
	defer unlock()
	return s.db.data.settings, nil
}

func (s *Settings) Save(ctx context.Context, v settings.Settings) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.db.data.settings = v
	return nil
}

func (s *Settings) AddImpressions(ctx context.Context, n int64, at time.Time) (int64, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	s.db.data.settings.ImpressionsToday += n
	s.db.data.settings.UpdatedAt = at
	return s.db.data.settings.ImpressionsToday, nil
}

func (s *Settings) ResetImpressions(ctx context.Context, at time.Time) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s.db.data.settings.ImpressionsToday = 0
	s.db.data.settings.UpdatedAt = at
	return nil
}

// Payouts реализует payouts.Store и budget.Ledger.
type Payouts struct{ db *DB }

func (s *Payouts) Insert(ctx context.Context, p *payouts.Request) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.db.data.payouts = append(s.db.data.payouts, *p)
	return nil
}

func (s *Payouts) HasNonce(ctx context.Context, deviceID, nonce string) (bool, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	for _, p := range s.db.data.payouts {
		if p.DeviceID == deviceID && p.Nonce == nonce {
			return true, nil
		}
	}
	return false, nil
}

func (s *Payouts) Get(ctx context.Context, id uuid.UUID) (*payouts.Request, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, p := range s.db.data.payouts {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *Payouts) Settle(ctx context.Context, id uuid.UUID, status payouts.Status, txRef, reason string, at time.Time) (bool, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	for i := range s.db.data.payouts {
		p := &s.db.data.payouts[i]
		if p.ID != id || p.Status != payouts.StatusPending {
			continue
		}
		p.Status = status
		p.TxRef = txRef
		p.Reason = reason
		if status == payouts.StatusPaid {
			paidAt := at
			p.PaidAt = &paidAt
		}
		return true, nil
	}
	return false, nil
}

func (s *Payouts) SumCommitted(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer unlock()

	sum := decimal.Zero
	for _, p := range s.db.data.payouts {
		if p.Status == payouts.StatusRejected {
			continue
		}
		if !p.RequestedAt.Before(from) && p.RequestedAt.Before(to) {
			sum = sum.Add(p.AmountUSD)
		}
	}
	return sum, nil
}

func (s *Payouts) ListByDevice(ctx context.Context, deviceID string, status payouts.Status, offset, limit int) ([]payouts.Request, int, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()

	var all []payouts.Request
	for _, p := range s.db.data.payouts {
		if p.DeviceID == deviceID && (status == "" || p.Status == status) {
			all = append(all, p)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	return window(all, offset, limit), len(all), nil
}

func (s *Payouts) ListPending(ctx context.Context, limit int) ([]payouts.Request, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []payouts.Request
	for _, p := range s.db.data.payouts {
		if p.Status == payouts.StatusPending {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return window(out, 0, limit), nil
}

func window(items []payouts.Request, offset, limit int) []payouts.Request {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
