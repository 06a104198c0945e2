package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/intent"
	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"github.com/ads-marketplace/deposit-tracker/internal/polling"
	"github.com/ads-marketplace/deposit-tracker/internal/ton"
	"github.com/google/uuid"
)

const (
	outcomeConfirmed = "confirmed"
	outcomeTimeout   = "timeout"
	outcomeCanceled  = "canceled"
	outcomeNone      = "none"
)

// runSend records the intent for a transfer the user is about to sign.
func runSend(ctx context.Context, store *intent.Store, args []string, now func() time.Time) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dealID := fs.String("deal", "", "deal id")
	to := fs.String("to", "", "escrow deposit address")
	amount := fs.String("amount", "", "amount in TON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*dealID) == "" {
		return errors.New("--deal is required")
	}
	deal, err := uuid.Parse(strings.TrimSpace(*dealID))
	if err != nil {
		return fmt.Errorf("invalid --deal %q: %w", *dealID, err)
	}
	dest, err := ton.NormalizeAddress(*to)
	if err != nil {
		return err
	}
	coins, err := ton.ParseTON(*amount)
	if err != nil {
		return err
	}
	if coins.Nano().Sign() <= 0 {
		return fmt.Errorf("amount must be positive, got %q", *amount)
	}

	store.Save(ctx, models.NewEscrowDepositIntent(deal.String(), now().UnixMilli(), dest, coins.Nano().String()))
	return nil
}

func parseResumeFlags(args []string) (uuid.UUID, error) {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	user := fs.String("user", "", "user id to issue an API token for")
	if err := fs.Parse(args); err != nil {
		return uuid.Nil, err
	}
	if *user == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(*user)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
	}
	return id, nil
}

// runResume polls the deal of the pending intent until it is confirmed,
// the coordinator times out or ctx ends. The intent is cleared only on
// confirmation so an interrupted watch can be resumed again.
func runResume(ctx context.Context, store *intent.Store, coord *polling.Coordinator, interval, timeout time.Duration, out io.Writer) (string, error) {
	pending, ok := store.Load(ctx)
	if !ok {
		fmt.Fprintln(out, "no pending deposit")
		return outcomeNone, nil
	}

	amount, err := ton.FormatNano(pending.AmountNano)
	if err != nil {
		amount = pending.AmountNano + " nano"
	}
	fmt.Fprintf(out, "watching deal %s: %s TON to %s\n", pending.DealID, amount, pending.DestinationAddress)

	result := make(chan string, 1)
	finish := func(outcome string) {
		select {
		case result <- outcome:
		default:
		}
	}

	coord.Activate(ctx, polling.Options{
		DealID:       pending.DealID,
		Enabled:      true,
		PollInterval: interval,
		Timeout:      timeout,
		OnStatus: func(st models.DepositStatus) {
			fmt.Fprintln(out, describe(st))
		},
		OnConfirmed: func(models.DepositStatus) { finish(outcomeConfirmed) },
		OnTimeout:   func() { finish(outcomeTimeout) },
	})
	defer coord.Close()

	var outcome string
	select {
	case outcome = <-result:
	case <-ctx.Done():
		coord.Deactivate()
		outcome = outcomeCanceled
	}

	switch outcome {
	case outcomeConfirmed:
		store.Clear(ctx)
		fmt.Fprintln(out, "deposit confirmed")
	case outcomeTimeout:
		fmt.Fprintln(out, "gave up waiting for confirmation")
	case outcomeCanceled:
		fmt.Fprintln(out, "interrupted, run resume again to continue")
	}
	return outcome, nil
}

func describe(st models.DepositStatus) string {
	var b strings.Builder
	b.WriteString(st.Status)
	if st.Confirmations != nil && st.RequiredConfirmations != nil {
		fmt.Fprintf(&b, " %d/%d", *st.Confirmations, *st.RequiredConfirmations)
	}
	if st.ReceivedAmountNano != nil {
		if v, err := ton.FormatNano(*st.ReceivedAmountNano); err == nil {
			fmt.Fprintf(&b, " received %s TON", v)
		}
	}
	return b.String()
}
