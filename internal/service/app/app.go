package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/dh"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/encryption"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/call"
	redisSvc "github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/redis"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	// App is the terminal client for one private channel: it joins over
	// the websocket, exchanges keys through the HTTP surface and renders
	// the conversation. Everything leaving this process is ciphertext.
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		api          *Client
		redisService *redisSvc.RedisService

		userID    string
		userName  string
		channelID string
		group     bool

		priv [32]byte
		pub  [32]byte

		keyMu      sync.Mutex
		peerPub    *[32]byte
		channelKey []byte

		connMu sync.Mutex
		conn   *websocket.Conn

		call *call.Manager
	}
)

func NewApp(api *Client, redis *redisSvc.RedisService) *App {
	return &App{
		app:          tview.NewApplication(),
		api:          api,
		redisService: redis,
	}
}

// Run joins the channel and blocks on the UI. A non-empty userName joins
// in group mode.
func (c *App) Run(ctx context.Context, channelID, userName string) {
	c.channelID = channelID
	c.userName = userName
	c.group = userName != ""

	if err := c.loadOrCreateIdentity(ctx); err != nil {
		log.Fatal("init identity failed", zap.Error(err))
	}

	conn, err := c.api.Dial(c.channelID, c.userID, c.userName, dh.EncodePublicKey(c.pub))
	if err != nil {
		log.Fatal("connect to server failed", zap.Error(err))
	}
	c.conn = conn

	if err := c.api.SharePublicKey(ctx, c.channelID, c.userID, dh.EncodePublicKey(c.pub), ""); err != nil {
		log.Fatal("share public key failed", zap.Error(err))
	}

	// earlier members may have published keys already
	if err := c.adoptPeerRecord(ctx); err != nil {
		log.Debug("no peer key yet", zap.Error(err))
	}

	c.call = call.NewManager(c.userID, c.channelID, wsSignaler{c}, call.NoCapture{}, func(ctx context.Context) (int, error) {
		return c.api.ChannelMembers(ctx, c.channelID)
	})

	go c.listen(ctx)
	c.renderUI()
}

func (c *App) Stop() {
	c.call.End()
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Channel %s ", c.channelID))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}
			c.input.SetText("")

			go func(msg string) {
				if err := c.handleInput(msg); err != nil {
					c.appendSystem(fmt.Sprintf("[red]%v[-]", err))
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) handleInput(text string) error {
	switch {
	case text == "/call":
		return c.startCall(false)
	case text == "/video":
		return c.startCall(true)
	case text == "/hangup":
		c.call.End()
		c.appendSystem("call ended")
		return nil
	case text == "/quit":
		c.app.Stop()
		return nil
	case strings.HasPrefix(text, "/"):
		return fmt.Errorf("unknown command %s", text)
	default:
		return c.SendMessage(text)
	}
}

func (c *App) SendMessage(msg string) error {
	ctx := context.Background()
	key, err := c.ensureChannelKey(ctx)
	if err != nil {
		return err
	}

	sealed, err := encryption.SealMessage(key, msg)
	if err != nil {
		return err
	}

	if _, err := c.api.SendMessage(ctx, &model.MessageRequest{
		Channel: c.channelID,
		Sender:  c.userID,
		Message: sealed,
	}); err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s\n", msg)
		c.chatbox.ScrollToEnd()
	})
	return nil
}

func (c *App) startCall(video bool) error {
	sess, err := c.call.Start(context.Background(), video)
	if err != nil {
		return err
	}
	c.watchCall(sess)
	c.appendSystem("calling peer...")
	return nil
}

func (c *App) watchCall(sess *call.Session) {
	sess.OnStateChange(func(state webrtc.PeerConnectionState) {
		c.appendSystem(fmt.Sprintf("call %s", state))
	})
}

func (c *App) listen(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("web socket closed", zap.Error(err))
			c.conn.Close()
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("unmarshal frame failed", zap.Error(err))
			continue
		}

		if err := c.dispatch(ctx, &frame); err != nil {
			c.appendSystem(fmt.Sprintf("[red]%v[-]", err))
		}
	}
}

func (c *App) dispatch(ctx context.Context, frame *model.Frame) error {
	switch frame.Event {
	case model.EventAliceJoin:
		var p model.AliceJoinPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return c.onPeerJoin(ctx, p.PublicKey)

	case model.EventChatMessage:
		var msg model.ChatMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return err
		}
		return c.onChatMessage(ctx, &msg)

	case model.EventDelivered:
		log.Debug("message delivered")
		return nil

	case model.EventLimitReached:
		c.appendSystem("[red]channel is full, disconnecting[-]")
		return nil

	case model.EventAliceDisconnect:
		c.appendSystem("peer disconnected")
		return nil

	case model.EventModeChanged:
		var p model.ModeChangedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		if p.Mode == model.ModeGroup {
			c.keyMu.Lock()
			c.group = true
			c.keyMu.Unlock()
		}
		c.appendSystem(fmt.Sprintf("channel switched to %s mode", p.Mode))
		return nil

	case model.EventMemberJoin:
		var p model.MemberJoinPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		return c.onMemberJoin(ctx, &p)

	case model.EventMemberLeave:
		var p model.MemberLeavePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		c.appendSystem(fmt.Sprintf("%s left", p.UserID))
		return nil

	case model.EventMemberListUpdate:
		var p model.MemberListPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return err
		}
		c.appendSystem(fmt.Sprintf("%d members in channel", p.Count))
		return nil

	case model.EventWebRTCSession:
		var sig model.SessionSignal
		if err := json.Unmarshal(frame.Data, &sig); err != nil {
			return err
		}
		return c.onCallSignal(ctx, &sig)

	default:
		log.Debug("unhandled event", zap.String("event", string(frame.Event)))
		return nil
	}
}

func (c *App) onChatMessage(ctx context.Context, msg *model.ChatMessage) error {
	key, err := c.ensureChannelKey(ctx)
	if err != nil {
		return err
	}
	plain, err := encryption.OpenMessage(key, msg.Message)
	if err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[green]%s:[-] %s\n", msg.Sender, plain)
		c.chatbox.ScrollToEnd()
	})

	return c.sendFrame(model.EventReceived, deliveryAck(msg))
}

// deliveryAck addresses the read receipt to the original sender; the
// server uses the sender field to find the connection to notify.
func deliveryAck(msg *model.ChatMessage) *model.ReceivedPayload {
	return &model.ReceivedPayload{
		Channel: msg.Channel,
		Sender:  msg.Sender,
		ID:      msg.ID,
	}
}

func (c *App) onCallSignal(ctx context.Context, sig *model.SessionSignal) error {
	hadCall := c.call.Active() != nil
	if err := c.call.HandleSignal(ctx, sig); err != nil {
		return err
	}
	if !hadCall {
		if sess := c.call.Active(); sess != nil {
			c.watchCall(sess)
			c.appendSystem(fmt.Sprintf("incoming %s call", sess.Mode()))
		}
	}
	return nil
}

func (c *App) sendFrame(kind model.EventKind, data any) error {
	frame, err := model.NewFrame(kind, data)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *App) appendSystem(line string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[gray]* %s[-]\n", line)
		c.chatbox.ScrollToEnd()
	})
}

// wsSignaler routes call signaling through the chat websocket.
type wsSignaler struct {
	app *App
}

func (s wsSignaler) Signal(sig *model.SessionSignal) error {
	return s.app.sendFrame(model.EventWebRTCSession, sig)
}
