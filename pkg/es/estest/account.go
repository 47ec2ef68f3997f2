// Package estest provides a small event-sourced aggregate and storage helpers
// for exercising the engine in tests.
package estest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
)

const AccountType = "account"

type AccountCreated struct {
	Owner string `json:"owner" validate:"required"`
}

func (AccountCreated) EventType() string { return "account.created" }

type AccountRenamed struct {
	Name string `json:"name" validate:"required"`
}

func (AccountRenamed) EventType() string { return "account.renamed" }

type AccountDeactivated struct {
	Reason string `json:"reason,omitempty"`
}

func (AccountDeactivated) EventType() string { return "account.deactivated" }

type FundsDeposited struct {
	Amount int64 `json:"amount" validate:"min=1"`
}

func (FundsDeposited) EventType() string  { return "account.funds_deposited" }
func (FundsDeposited) SchemaVersion() int { return 2 }

var ErrAccountClosed = errors.New("account is closed")

// Account is the sample aggregate.
type Account struct {
	es.AggregateBase

	Owner   string
	Name    string
	Active  bool
	Balance int64
}

func NewAccount(id string) *Account {
	return &Account{AggregateBase: es.NewAggregateBase(id)}
}

func (a *Account) AggregateType() string { return AccountType }

func (a *Account) ApplyEvent(event es.Event) error {
	switch e := event.(type) {
	case AccountCreated:
		a.Owner = e.Owner
		a.Active = true
	case AccountRenamed:
		a.Name = e.Name
	case AccountDeactivated:
		a.Active = false
	case FundsDeposited:
		a.Balance += e.Amount
	default:
		return fmt.Errorf("account: unhandled event %T", event)
	}
	return nil
}

func (a *Account) Open(ctx context.Context, owner string) error {
	if a.Version() > 0 {
		return fmt.Errorf("account %s already opened", a.AggregateID())
	}
	return es.Raise(ctx, a, AccountCreated{Owner: owner})
}

func (a *Account) Rename(ctx context.Context, name string) error {
	if !a.Active {
		return ErrAccountClosed
	}
	return es.Raise(ctx, a, AccountRenamed{Name: name})
}

func (a *Account) Deposit(ctx context.Context, amount int64) error {
	if !a.Active {
		return ErrAccountClosed
	}
	return es.Raise(ctx, a, FundsDeposited{Amount: amount})
}

func (a *Account) Deactivate(ctx context.Context, reason string) error {
	if !a.Active {
		return ErrAccountClosed
	}
	return es.Raise(ctx, a, AccountDeactivated{Reason: reason})
}

type accountState struct {
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Balance int64  `json:"balance"`
}

func (a *Account) SnapshotState() any {
	return accountState{Owner: a.Owner, Name: a.Name, Active: a.Active, Balance: a.Balance}
}

func (a *Account) RestoreSnapshot(data []byte) error {
	var state accountState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	a.Owner, a.Name, a.Active, a.Balance = state.Owner, state.Name, state.Active, state.Balance
	return nil
}

// NewRegistry registers every account event.
func NewRegistry() *codec.Registry {
	r := codec.NewRegistry()
	codec.MustRegister[AccountCreated](r)
	codec.MustRegister[AccountRenamed](r)
	codec.MustRegister[AccountDeactivated](r)
	codec.MustRegister[FundsDeposited](r)
	return r
}

// NewCodec is a codec over NewRegistry.
func NewCodec() *codec.Codec {
	return codec.New(NewRegistry())
}
