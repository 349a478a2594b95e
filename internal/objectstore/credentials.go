package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"golang.org/x/sync/singleflight"
)

const (
	// MinSessionDuration is the minimum duration for AWS STS AssumeRole (15 minutes)
	MinSessionDuration = 900 * time.Second

	// MaxSessionDuration is the longest session the owner access role allows (3 hours)
	MaxSessionDuration = 10800 * time.Second

	// ReuseWindow is how long cached owner credentials keep serving
	// signatures before a fresh session is assumed.
	ReuseWindow = 15 * time.Minute
)

// RoleAssumer is the subset of the STS client used for owner-scoped credentials.
type RoleAssumer interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// ScopedCredentials issues credentials restricted to one owner's key prefix.
// The role's policy is expected to match the owner_id session tag against
// the object key, so a URL signed with these credentials cannot touch
// another owner's objects.
type ScopedCredentials struct {
	sts     RoleAssumer
	roleArn string
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]aws.Credentials
	group singleflight.Group
}

// NewScopedCredentials creates a credentials source for roleArn.
func NewScopedCredentials(client RoleAssumer, roleArn string) *ScopedCredentials {
	return &ScopedCredentials{
		sts:     client,
		roleArn: roleArn,
		now:     time.Now,
		cache:   make(map[string]aws.Credentials),
	}
}

// ForOwner returns credentials for ownerID that stay valid for at least
// validFor. Sessions are cached per owner and assumed with ReuseWindow of
// slack, so repeated signing for one owner shares a single STS call.
func (c *ScopedCredentials) ForOwner(ctx context.Context, ownerID string, validFor time.Duration) (aws.Credentials, error) {
	if creds, ok := c.cached(ownerID, validFor); ok {
		return creds, nil
	}

	v, err, _ := c.group.Do(ownerID+"|"+validFor.String(), func() (any, error) {
		if creds, ok := c.cached(ownerID, validFor); ok {
			return creds, nil
		}
		creds, err := c.AssumeRoleForOwner(ctx, ownerID, validFor+ReuseWindow)
		if err != nil {
			return aws.Credentials{}, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		now := c.now()
		for owner, cached := range c.cache {
			if !cached.Expires.After(now) {
				delete(c.cache, owner)
			}
		}
		c.cache[ownerID] = creds
		return creds, nil
	})
	if err != nil {
		return aws.Credentials{}, err
	}
	return v.(aws.Credentials), nil
}

func (c *ScopedCredentials) cached(ownerID string, validFor time.Duration) (aws.Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	creds, ok := c.cache[ownerID]
	if !ok || !creds.Expires.After(c.now().Add(validFor)) {
		return aws.Credentials{}, false
	}
	return creds, true
}

// AssumeRoleForOwner assumes the owner access role with an owner_id session
// tag. The session lasts at least validFor so URLs signed with it stay
// usable for their whole validity window.
func (c *ScopedCredentials) AssumeRoleForOwner(ctx context.Context, ownerID string, validFor time.Duration) (aws.Credentials, error) {
	if ownerID == "" {
		return aws.Credentials{}, fmt.Errorf("owner ID cannot be empty")
	}
	if c.roleArn == "" {
		return aws.Credentials{}, fmt.Errorf("role ARN cannot be empty")
	}

	// Clamp the session to what STS and the role accept
	duration := validFor
	if duration < MinSessionDuration {
		duration = MinSessionDuration
	}
	if duration > MaxSessionDuration {
		duration = MaxSessionDuration
	}

	// Session name with owner ID and timestamp for uniqueness
	sessionName := fmt.Sprintf("owner-%s-session-%d", ownerID, c.now().Unix())

	out, err := c.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(c.roleArn),
		RoleSessionName: aws.String(truncateSessionName(sessionName)),
		Tags: []types.Tag{
			{
				Key:   aws.String("owner_id"),
				Value: aws.String(ownerID),
			},
		},
		DurationSeconds: aws.Int32(int32(duration / time.Second)),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume role for owner %s: %w", ownerID, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assume role for owner %s returned no credentials", ownerID)
	}

	// Convert STS credentials to AWS SDK credentials
	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "AssumeRoleProvider",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}

// ownerOf returns the owner prefix of a storage key.
func ownerOf(key string) string {
	owner, _, _ := strings.Cut(key, "/")
	return owner
}

// STS limits role session names to 64 characters.
func truncateSessionName(name string) string {
	if len(name) > 64 {
		return name[:64]
	}
	return name
}
