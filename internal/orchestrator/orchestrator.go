package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/metrics"
	"github.com/handshake/coordinator/internal/recordstore"
)

// CreateChallenge validates both users exist and differ, then writes a
// new Challenge in PENDING. Notification failures are logged but never
// abort creation.
func (o *Orchestrator) CreateChallenge(ctx context.Context, challengeID, challengerID, challengedID, gameType string, metadata map[string]interface{}) (*recordstore.Challenge, error) {
	if challengerID == challengedID {
		return nil, apperr.New(apperr.Validation, "cannot challenge yourself")
	}
	if _, err := o.store.GetUser(ctx, challengerID); err != nil {
		return nil, mapNotFound(err, "challenger")
	}
	if _, err := o.store.GetUser(ctx, challengedID); err != nil {
		return nil, mapNotFound(err, "challenged user")
	}

	now := o.clock.Now()
	c := &recordstore.Challenge{
		ChallengeID:  challengeID,
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		GameType:     gameType,
		State:        recordstore.StatePending,
		ExpiresAt:    now.Add(o.cfg.ChallengeExpiration),
		Metadata:     metadata,
	}
	if err := o.store.CreateChallenge(ctx, c); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "create challenge", err)
	}
	metrics.ChallengesCreated.WithLabelValues(gameType).Inc()
	o.recorder.Record(ctx, challengeID, "CREATED", map[string]interface{}{"challenger": challengerID, "challenged": challengedID})

	o.notifier.NotifyUser(ctx, challengedID, "challenge:received", map[string]interface{}{
		"challengeId": challengeID,
		"challenger":  challengerID,
		"gameType":    gameType,
		"createdAt":   now,
	})
	o.notifier.PushToUser(ctx, challengedID, "New challenge", fmt.Sprintf("%s challenged you", challengerID), map[string]string{"challenge_id": challengeID})

	return c, nil
}

// InitiateHandshake is called when the challenged user accepts.
func (o *Orchestrator) InitiateHandshake(ctx context.Context, challengeID, acceptedBy string) (state recordstore.ChallengeState, playerNotified bool, err error) {
	lockErr := o.locker.WithLock(ctx, lockKey(challengeID), o.cfg.LockTTL, func(ctx context.Context) error {
		c, gerr := o.store.GetChallenge(ctx, challengeID)
		if gerr != nil {
			return mapNotFound(gerr, "challenge")
		}
		if c.State != recordstore.StatePending {
			return apperr.New(apperr.Conflict, "challenge is not pending")
		}
		if acceptedBy != c.ChallengedID {
			return apperr.New(apperr.Forbidden, "only the challenged user may accept")
		}
		if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StatePending, recordstore.StateNotifying); terr != nil {
			return mapConflict(terr)
		}

		online, _ := o.presence.IsOnline(ctx, c.ChallengerID)
		o.notifier.NotifyUser(ctx, c.ChallengerID, "challenge:wake-up", map[string]interface{}{
			"challengeId": challengeID,
			"challenger":  acceptedBy,
			"gameType":    c.GameType,
			"now":         o.clock.Now(),
		})
		pushed := o.notifier.PushToUser(ctx, c.ChallengerID, "Wake up!", "Your opponent is ready", map[string]string{"challenge_id": challengeID})
		playerNotified = online || pushed

		if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StateNotifying, recordstore.StateWaitingResponse); terr != nil {
			return mapConflict(terr)
		}
		if _, aerr := o.store.IncrementAttempt(ctx, challengeID); aerr != nil {
			log.Printf("orchestrator: increment attempt failed for %s: %v", challengeID, aerr)
		}
		o.scheduleTimeout(challengeID, 1)
		o.recorder.Record(ctx, challengeID, "HANDSHAKE_INITIATED", map[string]interface{}{"notified": playerNotified})
		state = recordstore.StateWaitingResponse
		return nil
	})
	if lockErr != nil {
		return "", false, lockErr
	}
	return state, playerNotified, nil
}

// HandleWakeUpResponse resolves the challenger's ACCEPT/DECLINE.
func (o *Orchestrator) HandleWakeUpResponse(ctx context.Context, challengeID, userID string, response recordstore.ResponseValue) (action string, sessionID string, err error) {
	if !response.Valid() {
		return "", "", apperr.New(apperr.Validation, "response must be ACCEPT or DECLINE")
	}
	lockErr := o.locker.WithLock(ctx, lockKey(challengeID), o.cfg.LockTTL, func(ctx context.Context) error {
		c, gerr := o.store.GetChallenge(ctx, challengeID)
		if gerr != nil {
			return mapNotFound(gerr, "challenge")
		}
		if c.State != recordstore.StateWaitingResponse {
			return apperr.New(apperr.Conflict, "challenge is not awaiting a response")
		}
		if userID != c.ChallengerID {
			return apperr.New(apperr.Forbidden, "only the challenger may respond")
		}
		o.scheduler.CancelTimeout(timeoutJobID(challengeID, c.Attempts))

		if response == recordstore.ResponseAccept {
			sess := &recordstore.Session{
				SessionID:   challengeID + "-session",
				ChallengeID: challengeID,
				PlayerA:     c.ChallengerID,
				PlayerB:     c.ChallengedID,
				State:       recordstore.SessionActive,
			}
			if serr := o.store.CreateSession(ctx, sess); serr != nil {
				return apperr.Wrap(apperr.Internal, "create session", serr)
			}
			metrics.SessionsCreated.Inc()
			if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StateWaitingResponse, recordstore.StateActive); terr != nil {
				return mapConflict(terr)
			}
			for _, userID := range sess.Players() {
				opponentID := sess.Opponent(userID)
				opponentUser, uerr := o.store.GetUser(ctx, opponentID)
				opponentName := opponentID
				if uerr == nil && opponentUser.DisplayName != "" {
					opponentName = opponentUser.DisplayName
				}
				o.notifier.NotifySession(ctx, sess.SessionID, []string{userID}, "session:ready", map[string]interface{}{
					"sessionId":   sess.SessionID,
					"challengeId": challengeID,
					"opponent":    map[string]interface{}{"id": opponentID, "username": opponentName},
					"gameType":    c.GameType,
				})
			}
			o.recorder.Record(ctx, challengeID, "ACCEPTED", map[string]interface{}{"sessionId": sess.SessionID})
			action, sessionID = "SESSION_CREATED", sess.SessionID
			return nil
		}

		if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StateWaitingResponse, recordstore.StateDeclined); terr != nil {
			return mapConflict(terr)
		}
		o.notifier.NotifyUser(ctx, c.ChallengedID, "challenge:declined", map[string]interface{}{"challengeId": challengeID})
		o.recorder.Record(ctx, challengeID, "DECLINED_BY_CHALLENGER", nil)
		action = "declined"
		return nil
	})
	if lockErr != nil {
		return "", "", lockErr
	}
	return action, sessionID, nil
}

// HandleTimeout is the scheduler-driven retry/expire handler for a
// WAITING_RESPONSE challenge.
func (o *Orchestrator) HandleTimeout(ctx context.Context, challengeID string, attempt int) {
	err := o.locker.WithLock(ctx, lockKey(challengeID), o.cfg.LockTTL, func(ctx context.Context) error {
		c, gerr := o.store.GetChallenge(ctx, challengeID)
		if gerr != nil {
			return nil // challenge gone: nothing to do
		}
		if c.State != recordstore.StateWaitingResponse {
			return nil // another path already resolved it
		}

		if attempt >= o.cfg.MaxRetryAttempts {
			if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StateWaitingResponse, recordstore.StateTimeout); terr != nil {
				return nil
			}
			o.notifier.NotifyUser(ctx, c.ChallengedID, "challenge:timeout", map[string]interface{}{"challengeId": challengeID, "now": o.clock.Now()})
			o.recorder.Record(ctx, challengeID, "TIMED_OUT", map[string]interface{}{"attempts": attempt})
			return nil
		}

		o.notifier.NotifyUser(ctx, c.ChallengerID, "challenge:wake-up", map[string]interface{}{
			"challengeId": challengeID,
			"challenger":  c.ChallengedID,
			"gameType":    c.GameType,
			"now":         o.clock.Now(),
		})
		o.notifier.PushToUser(ctx, c.ChallengerID, "Wake up!", "Your opponent is still waiting", map[string]string{"challenge_id": challengeID})
		if _, aerr := o.store.IncrementAttempt(ctx, challengeID); aerr != nil {
			log.Printf("orchestrator: increment attempt failed for %s: %v", challengeID, aerr)
		}
		o.scheduleTimeout(challengeID, attempt+1)
		o.recorder.Record(ctx, challengeID, "RETRY_SENT", map[string]interface{}{"attempt": attempt + 1})
		return nil
	})
	if err != nil {
		log.Printf("orchestrator: handle timeout failed for %s: %v", challengeID, err)
	}
}

// DeclineByChallenged lets the challenged user decline a still-pending
// challenge before any handshake attempt was made.
func (o *Orchestrator) DeclineByChallenged(ctx context.Context, challengeID, userID string) error {
	return o.locker.WithLock(ctx, lockKey(challengeID), o.cfg.LockTTL, func(ctx context.Context) error {
		c, gerr := o.store.GetChallenge(ctx, challengeID)
		if gerr != nil {
			return mapNotFound(gerr, "challenge")
		}
		if c.State != recordstore.StatePending {
			return apperr.New(apperr.Conflict, "challenge is not pending")
		}
		if userID != c.ChallengedID {
			return apperr.New(apperr.Forbidden, "only the challenged user may decline")
		}
		if terr := o.store.UpdateChallengeState(ctx, challengeID, recordstore.StatePending, recordstore.StateDeclined); terr != nil {
			return mapConflict(terr)
		}
		o.notifier.NotifyUser(ctx, c.ChallengerID, "challenge:declined", map[string]interface{}{"challengeId": challengeID, "declinedBy": userID})
		o.recorder.Record(ctx, challengeID, "DECLINED_BY_CHALLENGED", nil)
		return nil
	})
}

// MarkExpired sweeps PENDING challenges whose deadline has passed. It
// runs outside any per-challenge lock: the row-guarded UPDATE excludes
// any challenge a concurrent InitiateHandshake already moved off
// PENDING.
func (o *Orchestrator) MarkExpired(ctx context.Context) (int, error) {
	count, err := o.store.MarkExpired(ctx, o.clock.Now())
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "mark expired", err)
	}
	return count, nil
}

func (o *Orchestrator) scheduleTimeout(challengeID string, attempt int) {
	o.scheduler.ScheduleTimeout(timeoutJobID(challengeID, attempt), o.cfg.HandshakeTimeout, func(ctx context.Context, jobID string) {
		o.HandleTimeout(ctx, challengeID, attempt)
	})
}

func mapNotFound(err error, what string) error {
	if err == recordstore.ErrNotFound {
		return apperr.Wrap(apperr.NotFound, what+" not found", err)
	}
	return apperr.Wrap(apperr.Internal, "lookup "+what, err)
}

func mapConflict(err error) error {
	if err == recordstore.ErrStateConflict {
		return apperr.Wrap(apperr.Conflict, "state changed concurrently", err)
	}
	if err == recordstore.ErrNotFound {
		return apperr.Wrap(apperr.NotFound, "challenge not found", err)
	}
	return apperr.Wrap(apperr.Internal, "state transition", err)
}
