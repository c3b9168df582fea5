package fedauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashVersionBcrypt tags hashes produced by HashPassword.
const HashVersionBcrypt = "bcrypt"

// bcrypt ignores everything past 72 bytes so longer passwords are refused.
const maxPasswordBytes = 72

var usernameRegex = regexp.MustCompile(`^[a-z0-9._%+@-]+$`)

// CredentialPolicy decides which usernames and passwords may be registered.
type CredentialPolicy struct {
	MinUsernameLength int
	MaxUsernameLength int
	MinPasswordLength int
}

// DefaultCredentialPolicy allows plain usernames as well as email addresses.
func DefaultCredentialPolicy() CredentialPolicy {
	return CredentialPolicy{
		MinUsernameLength: 3,
		MaxUsernameLength: 64,
		MinPasswordLength: 6,
	}
}

// Validate checks an already normalized username and a password.
func (p CredentialPolicy) Validate(username, password string) error {
	if len(username) < p.MinUsernameLength || len(username) > p.MaxUsernameLength {
		return fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, p.MinUsernameLength, p.MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: only letters, numbers and . _ %% + @ - are allowed", ErrInvalidUsername)
	}
	if len(password) < p.MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, p.MinPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, maxPasswordBytes)
	}
	return nil
}

// NormalizeUsername is applied to every username before it reaches a store.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// HashPassword derives a salted bcrypt hash at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CredentialVerifier registers and verifies local username/password pairs.
type CredentialVerifier struct {
	Users    UserStore
	Resolver *IdentityResolver
	Policy   CredentialPolicy
	Cost     int
	Logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentialVerifier(users UserStore, resolver *IdentityResolver) *CredentialVerifier {
	return (&CredentialVerifier{Users: users, Resolver: resolver}).EnsureDefaults()
}

func (v *CredentialVerifier) EnsureDefaults() *CredentialVerifier {
	if v.Policy == (CredentialPolicy{}) {
		v.Policy = DefaultCredentialPolicy()
	}
	if v.Cost == 0 {
		v.Cost = bcrypt.DefaultCost
	}
	if v.Logger == nil {
		v.Logger = slog.Default()
	}
	if v.Resolver == nil {
		v.Resolver = NewIdentityResolver(v.Users)
	}
	return v
}

// Register creates a new identity holding a local credential.
func (v *CredentialVerifier) Register(ctx context.Context, username, password string) (*UserIdentity, error) {
	cred, err := v.newCredential(username, password)
	if err != nil {
		return nil, err
	}
	return v.Resolver.ResolveLocal(ctx, cred)
}

// Verify returns the identity holding username if password matches.  Both
// failure modes wrap ErrLoginFailed and cost one bcrypt comparison each.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*UserIdentity, error) {
	user, err := v.Users.GetUserByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(v.getDummyHash(), password)
			return nil, ErrNoSuchUser
		}
		return nil, err
	}
	matched := user.HasLocalCredential() && VerifyPassword(user.LocalCredential.PasswordHash, password)
	// bcrypt only compares the first 72 bytes
	if !matched || len(password) > maxPasswordBytes {
		return nil, ErrInvalidCredential
	}
	return user, nil
}

// AttachCredential gives an identity created through a provider a local
// username and password.
func (v *CredentialVerifier) AttachCredential(ctx context.Context, userId, username, password string) (*UserIdentity, error) {
	cred, err := v.newCredential(username, password)
	if err != nil {
		return nil, err
	}
	user, err := v.Users.SetLocalCredential(ctx, userId, cred)
	if err != nil {
		return nil, err
	}
	v.Logger.Info("attached local credential", "user_id", userId, "username", cred.Username)
	return user, nil
}

func (v *CredentialVerifier) newCredential(username, password string) (LocalCredential, error) {
	username = NormalizeUsername(username)
	if err := v.Policy.Validate(username, password); err != nil {
		return LocalCredential{}, err
	}
	hash, err := HashPassword(password, v.Cost)
	if err != nil {
		return LocalCredential{}, err
	}
	return LocalCredential{Username: username, PasswordHash: hash, HashVersion: HashVersionBcrypt}, nil
}

// getDummyHash is compared against when the user does not exist so both
// failure paths take the same time.
func (v *CredentialVerifier) getDummyHash() string {
	v.dummyOnce.Do(func() {
		seed, err := GenerateSecureToken()
		if err == nil {
			v.dummyHash, err = HashPassword(seed[:32], v.Cost)
		}
		if err != nil {
			v.Logger.Error("failed to build dummy hash", "error", err)
		}
	})
	return v.dummyHash
}
