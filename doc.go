// Package fedauth authenticates users with a local password or an external
// OAuth2 provider, resolves every sign-in to one canonical identity and keeps
// that identity bound to a browser session.
//
// # Architecture
//
// CredentialVerifier: registers and verifies local username/password pairs.
// Passwords are stored as bcrypt hashes.  A failed login never reveals
// whether the username exists.
//
// ProviderRegistry: holds one Strategy per external provider (see the oauth2
// subpackage) and turns a callback query into a verified ExternalProfile.
// The OAuth2 state is a signed, short lived token so no server side state is
// kept between the redirect and the callback.
//
// IdentityResolver: maps a credential or a provider profile to a UserIdentity.
// Creation is delegated to the UserStore, which must make find-or-create
// atomic so concurrent first logins for the same provider account produce
// exactly one identity.
//
// SessionManager: binds the identity id to an scs session whose cookie lives
// only as long as the browser session.
//
// AccessGate: a pure check that allows a request when a bound identity was
// resolved for it.
//
// # Basic Usage
//
//	users := fs.NewUserStore("/path/to/storage")
//	registry := fedauth.NewProviderRegistry(fedauth.NewStateSigner(secret))
//	registry.Register(oauth2.NewGoogleOAuth2(googleConfig))
//
//	sessions := fedauth.NewSessionManager(nil, users, fedauth.SessionConfig{})
//	app := fedauth.New(users, sessions, registry)
//	app.Router().Handle("/dashboard", app.Protect(dashboard))
//	http.ListenAndServe(":8080", app.Handler())
//
// # Routes
//
//	POST /register                  create a local identity and sign in
//	POST /login                     verify a local credential and sign in
//	GET  /auth/{provider}           redirect to the provider
//	GET  /auth/{provider}/callback  complete the provider round trip
//	GET  /logout                    invalidate the session
//	POST /account/password          add a local credential to a provider identity
//	GET  /secrets                   list submitted secrets
//	GET  /submit, POST /submit      read and set the signed-in identity's secret
//
// # Storage Backends
//
// The stores subpackages implement UserStore on the file system (stores/fs),
// GORM (stores/gorm), PostgreSQL (stores/pg) and Cloud Datastore
// (stores/gae).  Session data can live in memory or in Redis
// (sessions/redisstore).
package fedauth
