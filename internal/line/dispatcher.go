package line

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskline/backend/internal/model"
	"taskline/backend/internal/rerun"
	"taskline/backend/internal/store"
)

// WebhookEvent is one inbound event from the messaging platform.
type WebhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	Postback struct {
		Data string `json:"data"`
	} `json:"postback"`
}

type WebhookRequest struct {
	Events []WebhookEvent `json:"events"`
}

// Dispatcher owns no state: every event re-reads through the store and
// replies through the transport.
type Dispatcher struct {
	store      store.Store
	queue      *rerun.Queue
	transport  Transport
	richMenuID string
}

func NewDispatcher(st store.Store, q *rerun.Queue, tr Transport, richMenuID string) *Dispatcher {
	return &Dispatcher{store: st, queue: q, transport: tr, richMenuID: richMenuID}
}

// HandleEvents processes one webhook delivery. Individual event
// failures are logged and skipped; the delivery as a whole still
// acknowledges so the platform does not redeliver.
func (d *Dispatcher) HandleEvents(ctx context.Context, events []WebhookEvent) int {
	handled := 0
	for _, ev := range events {
		if ev.Source.UserID == "" {
			continue
		}
		if err := d.handleEvent(ctx, ev); err != nil {
			log.Printf("[line] event %s for %s failed: %v", ev.Type, ev.Source.UserID, err)
			continue
		}
		handled++
	}
	return handled
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev WebhookEvent) error {
	if err := d.touchUser(ctx, ev); err != nil {
		return err
	}

	var cmd Command
	switch ev.Type {
	case "message":
		if ev.Message.Type != "text" {
			return nil
		}
		cmd = ParseText(ev.Message.Text)
	case "postback":
		cmd = ParsePostback(ev.Postback.Data)
	case "unfollow":
		// Blocked users lose the menu so a later re-follow starts from
		// the terms-agreement flow again.
		if d.richMenuID != "" {
			if err := d.transport.UnlinkRichMenu(ctx, ev.Source.UserID); err != nil {
				log.Printf("[line] richmenu unlink for %s failed: %v", ev.Source.UserID, err)
			}
		}
		return nil
	default:
		return nil // follow etc. only touch the user record
	}

	return d.dispatch(ctx, ev.Source.UserID, ev.ReplyToken, cmd)
}

// touchUser upserts the sender. The profile is fetched only the first
// time we see a user; afterwards the upsert just bumps last_seen.
func (d *Dispatcher) touchUser(ctx context.Context, ev WebhookEvent) error {
	u := model.User{ID: ev.Source.UserID, LastEvent: ev.Type}

	if _, err := d.store.GetUser(ctx, ev.Source.UserID); errors.Is(err, store.ErrNotFound) {
		if p, err := d.transport.FetchProfile(ctx, ev.Source.UserID); err == nil {
			u.Name = p.DisplayName
			u.PictureURL = p.PictureURL
			u.StatusMessage = p.StatusMessage
		} else {
			log.Printf("[line] profile fetch for %s failed: %v", ev.Source.UserID, err)
		}
	}

	_, err := d.store.UpsertUser(ctx, u)
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, userID, replyToken string, cmd Command) error {
	switch c := cmd.(type) {
	case ShowTasks:
		tasks, err := d.store.ListTasks(ctx, store.TaskFilter{OwnerID: userID})
		if err != nil {
			return err
		}
		return d.reply(ctx, replyToken, BuildTasksFlex(tasks))

	case Rerun:
		return d.handleRerun(ctx, userID, replyToken, c.Name)

	case ShowDetail:
		task, err := d.store.GetTask(ctx, c.TaskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return d.reply(ctx, replyToken, TextMessage("タスクが見つかりませんでした。"))
			}
			return err
		}
		if task.OwnerID != userID {
			return d.reply(ctx, replyToken, TextMessage("タスクが見つかりませんでした。"))
		}
		return d.reply(ctx, replyToken, BuildTaskDetailFlex(*task))

	case AgreeTerms:
		if d.richMenuID != "" {
			if err := d.transport.LinkRichMenu(ctx, userID, d.richMenuID); err != nil {
				log.Printf("[line] richmenu link for %s failed: %v", userID, err)
			}
		}
		return d.reply(ctx, replyToken, TextMessage("利用規約に同意いただきありがとうございます。メニューからタスクを確認できます。"))

	case Unrecognized:
		if replyToken == "" {
			return nil
		}
		return d.reply(ctx, replyToken, TextMessage("「タスク」で一覧を表示、「タスク名 再実行」で再実行を依頼できます。"))
	}
	return nil
}

// handleRerun maps every admission outcome to a user-facing message;
// declined admissions are business results, not errors.
func (d *Dispatcher) handleRerun(ctx context.Context, userID, replyToken, name string) error {
	var u model.User
	if got, err := d.store.GetUser(ctx, userID); err == nil {
		u = *got
	}

	req, err := d.queue.Enqueue(ctx, userID, name, u.Name)
	switch {
	case errors.Is(err, rerun.ErrNotFound):
		return d.reply(ctx, replyToken, TextMessage(fmt.Sprintf("「%s」というタスクが見つかりませんでした。", name)))
	case errors.Is(err, rerun.ErrDisabled):
		return d.reply(ctx, replyToken, TextMessage(fmt.Sprintf("「%s」は無効化されているため再実行できません。", name)))
	case errors.Is(err, rerun.ErrAlreadyPending):
		return d.reply(ctx, replyToken, TextMessage(fmt.Sprintf("「%s」は既に再実行待ちです。完了までお待ちください。", name)))
	case err != nil:
		return err
	}

	return d.reply(ctx, replyToken, TextMessage(fmt.Sprintf("「%s」の再実行を受け付けました。（実行PC: %s）", name, req.PCName)))
}

func (d *Dispatcher) reply(ctx context.Context, replyToken string, messages ...Message) error {
	if replyToken == "" {
		return nil
	}
	return d.transport.Reply(ctx, replyToken, messages)
}
