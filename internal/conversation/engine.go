// Package conversation runs the per-user chat flow that collects search
// criteria and handles commands once alerts are set up.
package conversation

import (
	"context"
	"errors"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/common/metrics"
	"immo-alerts/internal/common/validation"
	"immo-alerts/internal/models"
	"immo-alerts/internal/store"
)

// Sender delivers outbound chat text.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// Result describes what one inbound message did.
type Result struct {
	UserID  string                   `json:"userId"`
	State   models.ConversationState `json:"state"`
	Step    int                      `json:"step,omitempty"`
	Replies []string                 `json:"replies"`
	Sent    int                      `json:"sent"`
}

type Engine struct {
	users    store.UserStore
	criteria store.CriteriaStore
	turns    store.TurnStore
	cursors  CursorStore
	locker   Locker
	sender   Sender
	logger   logger.Logger
	now      func() time.Time
}

// NewEngine wires the engine. Nil cursors or locker fall back to the
// in-process implementations.
func NewEngine(stores store.Set, cursors CursorStore, locker Locker, sender Sender, log logger.Logger) *Engine {
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Engine{
		users:    stores.Users,
		criteria: stores.Criteria,
		turns:    stores.Turns,
		cursors:  cursors,
		locker:   locker,
		sender:   sender,
		logger:   log.WithFields(map[string]interface{}{"component": "conversation"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// session carries the state of one message being handled.
type session struct {
	user    *models.User
	state   models.ConversationState
	step    int
	replies []string
}

func (s *session) reply(msgs ...string) {
	s.replies = append(s.replies, msgs...)
}

// HandleMessage processes one inbound message. Messages from the same phone
// are handled one at a time. The inbound turn is stored before any state
// change; replies are sent and logged afterwards.
func (e *Engine) HandleMessage(ctx context.Context, phone, text string) (*Result, error) {
	phone = validation.NormalizePhone(phone)
	if !validation.ValidatePhone(phone) {
		return nil, apperrors.NewInvalidInputError("invalid sender phone")
	}

	unlock, err := e.locker.Lock(ctx, phone)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := e.logger.WithFields(map[string]interface{}{"from": logger.MaskPhone(phone)})

	user, isNew, err := e.loadOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}

	if err := e.turns.Append(ctx, &models.ConversationTurn{
		UserID:    user.ID,
		Direction: models.DirectionIn,
		Content:   text,
	}); err != nil {
		return nil, err
	}
	metrics.ConversationMessages.WithLabelValues(string(models.DirectionIn)).Inc()
	if err := e.users.Touch(ctx, user.ID, e.now()); err != nil {
		log.Warn("failed to touch user", map[string]interface{}{"error": err})
	}

	s := &session{user: user, state: user.State}
	if isNew {
		err = e.start(ctx, s)
	} else {
		err = e.dispatch(ctx, s, text)
	}
	if err != nil {
		log.Error("conversation step failed", map[string]interface{}{
			"state": string(s.state), "error": err,
		})
		return nil, err
	}

	sent := e.deliver(ctx, user, s.replies, log)
	log.Debug("message handled", map[string]interface{}{
		"text":  logger.Truncate(text, 80),
		"state": string(s.state),
		"step":  s.step,
	})
	return &Result{
		UserID:  user.ID,
		State:   s.state,
		Step:    s.step,
		Replies: s.replies,
		Sent:    sent,
	}, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, phone string) (*models.User, bool, error) {
	user, err := e.users.GetByPhone(ctx, phone)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	user = &models.User{Phone: phone}
	if err := e.users.Create(ctx, user); err != nil {
		return nil, false, err
	}
	e.logger.Info("new user", map[string]interface{}{"userId": user.ID})
	return user, true, nil
}

func (e *Engine) dispatch(ctx context.Context, s *session, text string) error {
	switch s.state {
	case models.StateCollectingCriteria:
		return e.collect(ctx, s, text)
	case models.StateConfirming:
		return e.confirm(ctx, s, text)
	case models.StatePaused:
		return e.paused(ctx, s, text)
	case models.StateActive:
		return e.command(ctx, s, text, msgAck+"\n\n"+msgMenu)
	default:
		return e.command(ctx, s, text, msgMenu)
	}
}

// start greets a first-time user and opens the collection flow.
func (e *Engine) start(ctx context.Context, s *session) error {
	s.reply(msgWelcome)
	return e.restartCollection(ctx, s)
}

func (e *Engine) restartCollection(ctx context.Context, s *session) error {
	if err := e.cursors.Save(ctx, s.user.ID, newCursor(s.user.ID)); err != nil {
		return err
	}
	if err := e.setState(ctx, s, models.StateCollectingCriteria); err != nil {
		return err
	}
	s.step = 1
	s.reply(stepPrompts[1])
	return nil
}

func (e *Engine) setState(ctx context.Context, s *session, state models.ConversationState) error {
	if s.state == state {
		return nil
	}
	if err := e.users.UpdateState(ctx, s.user.ID, state); err != nil {
		return err
	}
	s.state = state
	s.user.State = state
	return nil
}

// collect applies one answer to the current step. Unparseable answers re-prompt
// the same step.
func (e *Engine) collect(ctx context.Context, s *session, text string) error {
	cur, err := e.cursors.Get(ctx, s.user.ID)
	if err != nil {
		return err
	}
	if cur == nil || cur.Step < 1 || cur.Step > 5 {
		cur = newCursor(s.user.ID)
	}
	s.step = cur.Step
	draft := &cur.Draft

	switch cur.Step {
	case 1:
		t, ok := ClassifyPropertyType(text)
		if !ok {
			s.reply(msgBadType)
			return nil
		}
		draft.PropertyType = t
	case 2:
		min, max, ok := ParsePrice(text)
		if !ok {
			s.reply(msgBadPrice)
			return nil
		}
		draft.MinPrice, draft.MaxPrice = models.Float64(min), models.Float64(max)
	case 3:
		locs := ParseLocations(text)
		if len(locs) == 0 {
			s.reply(msgBadLocations)
			return nil
		}
		draft.Locations = locs
	case 4:
		n, ok := minimumAnswer(text)
		if !ok {
			s.reply(msgBadRooms)
			return nil
		}
		draft.MinRooms = nil
		if n > 0 {
			draft.MinRooms = models.Int(n)
		}
	case 5:
		n, ok := minimumAnswer(text)
		if !ok {
			s.reply(msgBadSurface)
			return nil
		}
		draft.MinSurface = nil
		if n > 0 {
			draft.MinSurface = models.Float64(float64(n))
		}
		return e.finishCollection(ctx, s, draft)
	}

	cur.Step++
	if err := e.cursors.Save(ctx, s.user.ID, cur); err != nil {
		return err
	}
	s.step = cur.Step
	s.reply(stepPrompts[cur.Step])
	return nil
}

// finishCollection overwrites the saved criteria with the draft.
func (e *Engine) finishCollection(ctx context.Context, s *session, draft *models.Criteria) error {
	criteria := draft.Clone()
	criteria.UserID = s.user.ID
	if err := e.criteria.Replace(ctx, criteria); err != nil {
		return err
	}
	if err := e.cursors.Delete(ctx, s.user.ID); err != nil {
		e.logger.Warn("failed to drop cursor", map[string]interface{}{"userId": s.user.ID, "error": err})
	}
	if err := e.setState(ctx, s, models.StateConfirming); err != nil {
		return err
	}
	s.step = 0
	s.reply(SummarizeCriteria(criteria) + "\n\n" + msgAskConfirm)
	return nil
}

func (e *Engine) confirm(ctx context.Context, s *session, text string) error {
	switch {
	case IsNegative(text):
		return e.restartCollection(ctx, s)
	case IsAffirmative(text):
		if err := e.activate(ctx, s); err != nil {
			return err
		}
		s.reply(msgActivated + "\n\n" + msgMenu)
	default:
		s.reply(msgAskConfirm)
	}
	return nil
}

func (e *Engine) activate(ctx context.Context, s *session) error {
	if err := e.users.SetActive(ctx, s.user.ID, true); err != nil {
		return err
	}
	s.user.IsActive = true
	return e.setState(ctx, s, models.StateActive)
}

// command handles the IDLE and ACTIVE vocabulary; fallback answers anything else.
func (e *Engine) command(ctx context.Context, s *session, text, fallback string) error {
	switch commandWord(text) {
	case "modifier", "change", "changer", "critères", "criteres":
		return e.restartCollection(ctx, s)
	case "statut", "status":
		return e.status(ctx, s)
	case "aide", "help":
		s.reply(msgHelp)
	case "pause", "stop":
		if err := e.setState(ctx, s, models.StatePaused); err != nil {
			return err
		}
		s.reply(msgPaused)
	default:
		s.reply(fallback)
	}
	return nil
}

func (e *Engine) paused(ctx context.Context, s *session, text string) error {
	switch commandWord(text) {
	case "reprendre", "resume", "start":
		if err := e.activate(ctx, s); err != nil {
			return err
		}
		s.reply(msgResumed)
	case "statut", "status":
		return e.status(ctx, s)
	default:
		s.reply(msgReminder)
	}
	return nil
}

func (e *Engine) status(ctx context.Context, s *session) error {
	c, err := e.criteria.Get(ctx, s.user.ID)
	if errors.Is(err, store.ErrNotFound) {
		c, err = nil, nil
	}
	if err != nil {
		return err
	}
	s.reply(statusMessage(s.state, c))
	return nil
}

// deliver sends replies in order and logs each successful one as an OUT turn.
// Delivery failures are logged and not retried.
func (e *Engine) deliver(ctx context.Context, user *models.User, replies []string, log logger.Logger) int {
	if e.sender == nil {
		return 0
	}
	sent := 0
	for _, body := range replies {
		if err := e.sender.SendText(ctx, user.Phone, body); err != nil {
			log.Warn("reply delivery failed", map[string]interface{}{"error": err})
			continue
		}
		sent++
		metrics.ConversationMessages.WithLabelValues(string(models.DirectionOut)).Inc()
		if err := e.turns.Append(ctx, &models.ConversationTurn{
			UserID:    user.ID,
			Direction: models.DirectionOut,
			Content:   body,
		}); err != nil {
			log.Warn("failed to log outbound turn", map[string]interface{}{"error": err})
		}
	}
	return sent
}
