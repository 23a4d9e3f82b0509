// Package redisrepo persists credentials in a Redis hash so several processes on one
// host can share a session.
package redisrepo

import (
	"context"
	"strconv"
	"time"

	"github.com/jrsteele09/habitate-session/credentials"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUserID       = "user_id"
	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldTokenExpiry  = "token_expiry"
	fieldOnboarded    = "onboarded"
)

var _ credentials.Repo = (*Repo)(nil)

type Repo struct {
	rdb    redis.UniversalClient
	key    string
	sealer credentials.Sealer
}

func New(rdb redis.UniversalClient, key string, sealer credentials.Sealer) *Repo {
	if sealer == nil {
		sealer = credentials.NopSealer{}
	}
	return &Repo{rdb: rdb, key: key, sealer: sealer}
}

func (r *Repo) Load(ctx context.Context) (credentials.Credentials, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return credentials.Credentials{}, errors.Wrap(err, "redisrepo.Load HGetAll")
	}
	if len(fields) == 0 {
		return credentials.Credentials{}, nil
	}

	sealed := credentials.Credentials{
		UserID:       fields[fieldUserID],
		AccessToken:  fields[fieldAccessToken],
		RefreshToken: fields[fieldRefreshToken],
		Onboarded:    fields[fieldOnboarded] == "1",
	}
	if raw := fields[fieldTokenExpiry]; raw != "" && raw != "0" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return credentials.Credentials{}, errors.Wrap(err, "redisrepo.Load token_expiry")
		}
		sealed.TokenExpiry = time.UnixMilli(ms).UTC()
	}

	creds, err := credentials.OpenTokens(r.sealer, sealed)
	if err != nil {
		return credentials.Credentials{}, errors.Wrap(err, "redisrepo.Load OpenTokens")
	}
	return creds, nil
}

func (r *Repo) Save(ctx context.Context, creds credentials.Credentials) error {
	sealed, err := credentials.SealTokens(r.sealer, creds)
	if err != nil {
		return errors.Wrap(err, "redisrepo.Save SealTokens")
	}

	var expiry int64
	if !sealed.TokenExpiry.IsZero() {
		expiry = sealed.TokenExpiry.UnixMilli()
	}
	onboarded := "0"
	if sealed.Onboarded {
		onboarded = "1"
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key,
			fieldUserID, sealed.UserID,
			fieldAccessToken, sealed.AccessToken,
			fieldRefreshToken, sealed.RefreshToken,
			fieldTokenExpiry, strconv.FormatInt(expiry, 10),
			fieldOnboarded, onboarded,
		)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redisrepo.Save HSet")
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "redisrepo.Clear Del")
	}
	return nil
}
