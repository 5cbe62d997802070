// Package authkit issues, verifies and refreshes session credentials for web
// requests and drives the OAuth, credentials and email sign-in handshakes
// against a pluggable persistence layer.
//
// # Architecture
//
// Auth is the state machine. It is built once from a Config by New and serves
// these routes under Config.BasePath (default /auth):
//
//	GET  /signin               provider list, or redirect to Pages.SignIn
//	GET  /signin/{provider}    start an OAuth handshake
//	POST /signin/{provider}    credentials or email sign-in
//	GET  /callback/{provider}  OAuth or magic link callback
//	GET  /signout, POST        end the session
//	GET  /session              {user, expires} of the current session
//	GET  /providers            configured providers
//	GET  /csrf                 CSRF token
//
// Sessions live either entirely in a signed cookie (StrategyJWT) or in the
// Adapter behind an opaque token (StrategyDatabase). The SessionCodec wraps
// the token package for the former.
//
// Providers are a closed set: *OAuthProvider, *CredentialsProvider and
// *EmailProvider. The oauth2 package has presets for common OAuth providers.
//
// # Basic Usage
//
//	store := memory.New()
//	authorize, _ := authkit.PasswordAuthorizer(store, authkit.PasswordAuthorizerOptions{})
//
//	auth, err := authkit.New(authkit.Config{
//	    Secret:  os.Getenv("AUTH_SECRET"),
//	    Adapter: store,
//	    Providers: []authkit.Provider{
//	        oauth2.GitHub(oauth2.Options{}),
//	        &authkit.CredentialsProvider{Authorize: authorize},
//	    },
//	})
//
//	mux := http.NewServeMux()
//	mux.Handle("/", appHandler)
//	handler := authkit.Sequence(
//	    auth.Middleware(),
//	    auth.Protect(authkit.ProtectConfig{ProtectedRoutes: []string{"/app/*"}}),
//	)(mux)
//
// Downstream handlers read the session with SessionFromContext.
//
// # Errors
//
// Bad or expired tokens are never errors: they simply mean "no session".
// Adapters return *AdapterError with a stable Code. Setup problems are
// *ConfigurationError.
//
// # Testing
//
// Handlers can be exercised with httptest against the memory adapter in
// stores/memory. Config.Clock and Config.Random make time and randomness
// deterministic.
package authkit
