package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tgmux/tgmux/mtproto"
)

const (
	devLoginCode   = "12345"
	dev2FAPassword = "tgmux"
)

var devDialSeq atomic.Int64

// devFactory dials simulated network clients: any phone signs in with the
// fixed dev code, and phones ending in 00 additionally require the dev 2FA
// password. Production deployments replace this factory with a real MTProto
// client library.
func devFactory() mtproto.Factory {
	return func(ctx context.Context) (mtproto.Client, error) {
		dc := 1 + int(devDialSeq.Add(1))%5
		return &devClient{dc: dc}, nil
	}
}

type devClient struct {
	dc           int
	credential   string
	pendingPhone string
}

func (c *devClient) Connect(ctx context.Context) error { return nil }
func (c *devClient) Disconnect() error                 { return nil }
func (c *devClient) Ping(ctx context.Context) error    { return nil }

func (c *devClient) SendVerificationCode(ctx context.Context, phone string) (*mtproto.SentCode, error) {
	return &mtproto.SentCode{CodeHash: "dev:" + phone, Timeout: 300, DeliveryMethod: "app"}, nil
}

func (c *devClient) SignIn(ctx context.Context, phone, codeHash, code string) (*mtproto.Authorization, error) {
	if codeHash != "dev:"+phone {
		return nil, mtproto.ErrCodeExpired
	}
	if code != devLoginCode {
		return nil, mtproto.ErrCodeInvalid
	}
	if strings.HasSuffix(phone, "00") {
		c.pendingPhone = phone
		return nil, mtproto.ErrPasswordNeeded
	}
	return c.authorize(phone), nil
}

func (c *devClient) CheckPassword(ctx context.Context, password string) (*mtproto.Authorization, error) {
	if c.pendingPhone == "" {
		return nil, mtproto.ErrNotAuthorized
	}
	if password != dev2FAPassword {
		return nil, mtproto.ErrPasswordInvalid
	}
	phone := c.pendingPhone
	c.pendingPhone = ""
	return c.authorize(phone), nil
}

func (c *devClient) authorize(phone string) *mtproto.Authorization {
	id := accountIDForPhone(phone)
	c.credential = fmt.Sprintf("cred:%d", id)
	return &mtproto.Authorization{
		User:       mtproto.User{ID: id, Username: fmt.Sprintf("dev%d", id), Phone: phone},
		Credential: c.credential,
	}
}

func (c *devClient) CurrentUser(ctx context.Context) (*mtproto.User, error) {
	raw, ok := strings.CutPrefix(c.credential, "cred:")
	if !ok {
		return nil, mtproto.ErrNotAuthorized
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, mtproto.ErrNotAuthorized
	}
	return &mtproto.User{ID: id, Username: fmt.Sprintf("dev%d", id)}, nil
}

func (c *devClient) ExportCredential() (string, error) {
	if c.credential == "" {
		return "", mtproto.ErrNotAuthorized
	}
	return c.credential, nil
}

func (c *devClient) ImportCredential(credential string) error {
	c.credential = credential
	return nil
}

func (c *devClient) DCInfo() mtproto.DC {
	return mtproto.DC{ID: c.dc, Address: fmt.Sprintf("149.154.167.%d", 50+c.dc), Port: 443}
}

// accountIDForPhone folds the digits of a phone number into a stable
// simulated account ID.
func accountIDForPhone(phone string) int64 {
	var id int64 = 1
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			id = id*10 + int64(r-'0')
			id %= 1 << 40
		}
	}
	return id
}
