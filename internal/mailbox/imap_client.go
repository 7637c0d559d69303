package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"greendrake/offerdesk/internal/config"
)

// ErrConnectionClosed is returned when the server drops the connection.
var ErrConnectionClosed = errors.New("imap connection closed")

// Mailbox is one authenticated session on the watched folder.
type Mailbox interface {
	Select(ctx context.Context) (uint32, error)
	SearchUnseen(ctx context.Context) ([]uint32, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	// WaitForUpdate blocks until new mail is announced, maxWait elapses or
	// the connection fails.
	WaitForUpdate(ctx context.Context, maxWait time.Duration) error
	Close() error
}

// Dialer opens authenticated mailbox sessions.
type Dialer interface {
	Dial(ctx context.Context) (Mailbox, error)
}

// IMAPDialer connects with go-imap.
type IMAPDialer struct {
	addr        string
	useTLS      bool
	username    string
	password    string
	folder      string
	authTimeout time.Duration
}

func NewIMAPDialer(cfg *config.Config) *IMAPDialer {
	return &IMAPDialer{
		addr:        cfg.ImapAddr(),
		useTLS:      cfg.ImapTLS,
		username:    cfg.ImapUsername,
		password:    cfg.ImapPassword,
		folder:      cfg.ImapMailbox,
		authTimeout: cfg.ImapAuthTimeout,
	}
}

// Dial connects and logs in. Both steps are bounded by the auth timeout.
func (d *IMAPDialer) Dial(ctx context.Context) (Mailbox, error) {
	mb := &imapMailbox{folder: d.folder, updates: make(chan struct{}, 1)}
	opts := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: d.authTimeout},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					mb.notify()
				}
			},
		},
	}

	var (
		client *imapclient.Client
		err    error
	)
	if d.useTLS {
		client, err = imapclient.DialTLS(d.addr, opts)
	} else {
		client, err = imapclient.DialInsecure(d.addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", d.addr, err)
	}
	mb.client = client

	loginCtx, cancel := context.WithTimeout(ctx, d.authTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Login(d.username, d.password).Wait() }()
	select {
	case err = <-done:
	case <-loginCtx.Done():
		client.Close()
		return nil, fmt.Errorf("imap auth: %w", loginCtx.Err())
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	return mb, nil
}

type imapMailbox struct {
	client  *imapclient.Client
	folder  string
	updates chan struct{}
}

func (m *imapMailbox) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *imapMailbox) Select(ctx context.Context) (uint32, error) {
	data, err := m.client.Select(m.folder, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("imap select %s: %w", m.folder, err)
	}
	return data.NumMessages, nil
}

func (m *imapMailbox) SearchUnseen(ctx context.Context) ([]uint32, error) {
	data, err := m.client.UIDSearch(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	out := make([]uint32, len(uids))
	for i, uid := range uids {
		out[i] = uint32(uid)
	}
	return out, nil
}

// FetchRaw reads the full message with BODY.PEEK[] so the \Seen flag is untouched.
func (m *imapMailbox) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := m.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch %d: %w", uid, err)
	}
	for _, buf := range bufs {
		if body := buf.FindBodySection(section); body != nil {
			return body, nil
		}
	}
	return nil, fmt.Errorf("imap fetch %d: message has no body", uid)
}

func (m *imapMailbox) MarkSeen(ctx context.Context, uid uint32) error {
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := m.client.Store(imap.UIDSetNum(imap.UID(uid)), store, nil).Close(); err != nil {
		return fmt.Errorf("imap store seen %d: %w", uid, err)
	}
	return nil
}

func (m *imapMailbox) WaitForUpdate(ctx context.Context, maxWait time.Duration) error {
	idle, err := m.client.Idle()
	if err != nil {
		return fmt.Errorf("imap idle: %w", err)
	}
	ended := make(chan error, 1)
	go func() { ended <- idle.Wait() }()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case err := <-ended:
		if err == nil {
			err = ErrConnectionClosed
		}
		return fmt.Errorf("imap idle: %w", err)
	case <-m.updates:
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := idle.Close(); err != nil {
		return fmt.Errorf("imap idle done: %w", err)
	}
	if err := <-ended; err != nil {
		return fmt.Errorf("imap idle: %w", err)
	}
	return ctx.Err()
}

func (m *imapMailbox) Close() error {
	logoutErr := m.client.Logout().Wait()
	if err := m.client.Close(); err != nil {
		return err
	}
	return logoutErr
}
