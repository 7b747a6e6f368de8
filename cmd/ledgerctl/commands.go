package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/google/uuid"
)

type balanceCmd struct {
	owner    int64
	currency int64
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print the balance of one account" }
func (*balanceCmd) Usage() string {
	return `ledgerctl balance -owner <id> -currency <id>

  Prints the balance in minor units. The value may come from cache.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.owner, "owner", 0, "owner id")
	f.Int64Var(&c.currency, "currency", 0, "currency id")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	ctx, cancel := requestContext(ctx)
	defer cancel()
	balance, err := s.client.GetBalance(ctx, c.owner, c.currency)
	if err != nil {
		fail("balance: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Println(balance)
	return subcommands.ExitSuccess
}

type balancesCmd struct {
	owner int64
}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "list every currency balance of an owner" }
func (*balancesCmd) Usage() string {
	return `ledgerctl balances -owner <id>
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.owner, "owner", 0, "owner id")
}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	ctx, cancel := requestContext(ctx)
	defer cancel()
	views, err := s.client.GetAllBalances(ctx, c.owner)
	if err != nil {
		fail("balances: %v", err)
		return subcommands.ExitFailure
	}
	for _, v := range views {
		fmt.Printf("%-6s %20s\n", v.Currency, v.Formatted)
	}
	return subcommands.ExitSuccess
}

type deltaCmd struct {
	owner    int64
	currency int64
	amount   int64
	txID     string
}

func (*deltaCmd) Name() string     { return "delta" }
func (*deltaCmd) Synopsis() string { return "add (positive) or subtract (negative) an amount" }
func (*deltaCmd) Usage() string {
	return `ledgerctl delta -owner <id> -currency <id> -amount <minor units> [-tx <client tx id>]

  A random client transaction id is generated when -tx is empty.
  Re-sending the same -tx does not apply the amount twice.
`
}

func (c *deltaCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.owner, "owner", 0, "owner id")
	f.Int64Var(&c.currency, "currency", 0, "currency id")
	f.Int64Var(&c.amount, "amount", 0, "signed amount in minor units")
	f.StringVar(&c.txID, "tx", "", "client transaction id (idempotency key)")
}

func (c *deltaCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	txID := c.txID
	if txID == "" {
		txID = uuid.NewString()
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	balance, err := s.client.UpdateBalance(ctx, c.owner, c.currency, c.amount, txID)
	if err != nil {
		fail("delta %s: %v", txID, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s balance=%d\n", txID, balance)
	return subcommands.ExitSuccess
}

type transferCmd struct {
	from     int64
	to       int64
	currency int64
	amount   int64
	txID     string
}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "move an amount between two owners" }
func (*transferCmd) Usage() string {
	return `ledgerctl transfer -from <id> -to <id> -currency <id> -amount <minor units> [-tx <client tx id>]
`
}

func (c *transferCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.from, "from", 0, "source owner id")
	f.Int64Var(&c.to, "to", 0, "destination owner id")
	f.Int64Var(&c.currency, "currency", 0, "currency id")
	f.Int64Var(&c.amount, "amount", 0, "amount in minor units")
	f.StringVar(&c.txID, "tx", "", "client transaction id (idempotency key)")
}

func (c *transferCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	txID := c.txID
	if txID == "" {
		txID = uuid.NewString()
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	entryID, err := s.client.Transfer(ctx, c.from, c.to, c.currency, c.amount, txID)
	if err != nil {
		fail("transfer %s: %v", txID, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s entry=%d\n", txID, entryID)
	return subcommands.ExitSuccess
}

type reconcileCmd struct {
	currency int64
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "check that user and technical accounts net to zero" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile -currency <id>

  Exits non-zero when the currency is out of balance.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.currency, "currency", 0, "currency id")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	ctx, cancel := requestContext(ctx)
	defer cancel()
	totals, err := s.client.Reconcile(ctx, c.currency)
	if err != nil {
		fail("reconcile: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("normal=%d technical=%d balanced=%t\n", totals.Normal, totals.Technical, totals.Balanced())
	return subcommands.ExitSuccess
}
