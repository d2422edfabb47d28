// Package replay implements the startup recovery driver described in spec
// §4.5: seed in-memory state from the most recent snapshot, if any, then
// stream the journal forward from the next sequence, applying each record
// to the same managers the live system uses — but with journal writes
// suppressed, so recovery never doubles the log it is replaying. No pack
// example implements recovery; the loop shape (open snapshot, stream
// journal, replaying flag) follows spec §4.5 directly, and error handling
// follows the teacher's zerolog-everywhere convention.
package replay

import (
	"fmt"

	"fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/journal"
	"fenrir/internal/position"

	"github.com/rs/zerolog/log"
)

// Result summarizes one recovery run.
type Result struct {
	RecordsApplied uint64
	LastSequence   uint64
	TruncatedAt    uint64
}

// Recover seeds eng/positions from snapshot (nil if none exists) and then
// replays every record in the journal at path whose sequence is greater
// than snapshot.Sequence. now stamps any reconstructed structure's
// timestamps; it never changes which records are applied.
//
// Recovery is deterministic: every branch below applies its record through
// an engine Replay* method or a position.Manager method with journal writes
// suppressed, or is a no-op, so replaying the same journal into fresh state
// twice yields identical state both times. Withdrawal and margin-lock
// records still pass the manager's balance checks; a rejected withdrawal is
// logged and a refused margin lock is ignored, and recovery goes on.
func Recover(path string, snapshot *journal.SnapshotData, eng *engine.Engine, positions *position.Manager, now int64) (Result, error) {
	var res Result
	startSeq := uint64(0)

	var maxOrderID, maxTradeID uint64

	if snapshot != nil {
		seedFromSnapshot(*snapshot, eng, positions, now)
		startSeq = snapshot.Sequence
		res.LastSequence = snapshot.Sequence
		for _, o := range snapshot.Orders {
			if o.ID > maxOrderID {
				maxOrderID = o.ID
			}
		}
	}

	segments, err := journal.Segments(path)
	if err != nil {
		return res, err
	}

	var truncatedAt uint64
	applyRecord := func(rec journal.Record) error {
		if rec.Header.Sequence <= startSeq {
			return nil
		}
		ts := int64(rec.Header.TimestampNs)

		switch rec.Header.Type {
		case journal.EventOrderNew:
			b := journal.DecodeOrderNewBody(rec.Body)
			eng.ReplayOrderNew(b, ts)
			if b.OrderID > maxOrderID {
				maxOrderID = b.OrderID
			}

		case journal.EventCancel:
			eng.ReplayCancel(journal.DecodeCancelBody(rec.Body))

		case journal.EventModify:
			eng.ReplayModify(journal.DecodeModifyBody(rec.Body), ts)

		case journal.EventTrade:
			b := journal.DecodeTradeBody(rec.Body)
			eng.ReplayTrade(b, ts)
			if b.TradeID > maxTradeID {
				maxTradeID = b.TradeID
			}
			if b.MakerOrderID > maxOrderID {
				maxOrderID = b.MakerOrderID
			}
			if b.TakerOrderID > maxOrderID {
				maxOrderID = b.TakerOrderID
			}

		case journal.EventDeposit:
			b := journal.DecodeCashMovementBody(rec.Body)
			positions.Deposit(b.User, b.Amount, b.Currency, ts, true)

		case journal.EventWithdrawal:
			b := journal.DecodeCashMovementBody(rec.Body)
			if err := positions.Withdraw(b.User, b.Amount, b.Currency, ts, true); err != nil {
				// The live run accepted this withdrawal, so a failure here
				// means the account was seeded from a snapshot that
				// doesn't agree with the journal tail. Log and keep going:
				// recovery should surface, not halt on, this divergence.
				log.Warn().Err(err).Str("user", b.User).Msg("replay: withdrawal rejected against recovered balance")
			}

		case journal.EventMarginLock:
			b := journal.DecodeMarginBody(rec.Body)
			positions.ReserveMargin(b.User, b.Amount, ts, true)

		case journal.EventMarginRelease:
			b := journal.DecodeMarginBody(rec.Body)
			positions.ReleaseMargin(b.User, b.Amount, ts, true)

		case journal.EventLiquidation:
			positions.ReplayLiquidation(journal.DecodeLiquidationBody(rec.Body))

		case journal.EventFunding:
			b := journal.DecodeFundingBody(rec.Body)
			positions.SettleFunding(b.Symbol, b.Rate, common.Price(b.MarkPrice), ts, true)

		case journal.EventPositionAdjustment:
			b := journal.DecodePositionAdjustmentBody(rec.Body)
			if _, err := positions.ApplyFill(b.User, b.Symbol, b.SignedQty, common.Price(b.Price), ts); err != nil {
				log.Warn().Err(err).Str("user", b.User).Str("symbol", b.Symbol).Msg("replay: position adjustment apply_fill failed")
			}

		case journal.EventFee, journal.EventInsurance,
			journal.EventSystemStart, journal.EventSystemStop,
			journal.EventSnapshot, journal.EventOrderReject:
			// Fee/insurance effects are already folded into the cash
			// movements and liquidations that accompanied them when they
			// were first journaled; system markers, snapshot pointers and
			// order rejects carry no state to reconstruct.

		default:
			return fmt.Errorf("replay: unrecognized event type %d at sequence %d", rec.Header.Type, rec.Header.Sequence)
		}

		res.RecordsApplied++
		res.LastSequence = rec.Header.Sequence
		return nil
	}

	for _, seg := range segments {
		t, err := journal.ReadAll(seg, applyRecord)
		if err != nil {
			return res, err
		}
		truncatedAt = t
	}
	res.TruncatedAt = truncatedAt

	eng.ReplaySeedIDs(maxOrderID, maxTradeID)

	log.Info().
		Uint64("records_applied", res.RecordsApplied).
		Uint64("last_sequence", res.LastSequence).
		Uint64("truncated_at", res.TruncatedAt).
		Msg("replay: recovery complete")

	return res, nil
}

// seedFromSnapshot restores accounts, positions and resting orders captured
// at snapshot.Sequence, before any journal tail is replayed on top.
func seedFromSnapshot(snap journal.SnapshotData, eng *engine.Engine, positions *position.Manager, now int64) {
	for _, a := range snap.Accounts {
		positions.SeedAccount(a.User, a.CashBalance, a.RealizedPnl)
	}
	for _, p := range snap.Positions {
		positions.SeedPosition(position.Position{
			User:          p.User,
			Symbol:        p.Symbol,
			Size:          p.Size,
			AvgEntryPrice: float64(p.AvgEntryPrice),
			MarginUsed:    p.MarginUsed,
			RealizedPnl:   p.RealizedPnl,
			Leverage:      p.Leverage,
			OpenedAt:      now,
			UpdatedAt:     now,
		})
	}
	for _, o := range snap.Orders {
		eng.ReplaySnapshotOrder(o, now)
	}
}
