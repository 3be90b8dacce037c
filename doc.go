// Package cabinet is the HTTP client of the Bedolaga cabinet web app. It keeps
// a user session authenticated without the caller thinking about tokens:
//
//   - Attaches "Authorization: Bearer <access token>" from a pluggable TokenStore
//   - Sends Telegram WebApp init data in the X-Telegram-Init-Data header
//   - Refreshes an access token that is expired (or about to be) before sending
//   - Coalesces concurrent refreshes into one call to the refresh endpoint
//   - Replays a request once with a new token after a 401 response
//   - Clears the session and calls OnSessionExpired when refresh fails for good
//
// Stores ship for memory, a JSON file and Redis. Refreshers ship for the
// cabinet endpoint (POST /cabinet/auth/refresh) and OAuth2 refresh-token grants.
//
// Typical usage:
//
//	client := cabinet.New(
//	    cabinet.WithBaseURL("https://cabinet.example.com/api"),
//	    cabinet.WithSession(cabinet.Session{AccessToken: at, RefreshToken: rt}),
//	    cabinet.WithIdentitySource(cabinet.StaticIdentity(initData)),
//	    cabinet.WithOnSessionExpired(func(ctx context.Context, err error) {
//	        // send the user back to login
//	    }),
//	)
//	var me Profile
//	err := client.GetJSON(ctx, "/cabinet/auth/me", &me)
//
// HTTP error statuses are returned as responses by Do and the verb methods;
// only the typed JSON helpers turn them into *ClientError values. Provide a
// Logger (NewZapLogger, WithSimpleLogger) and metrics (WithMetricsRegistry)
// for insight into refresh behaviour.
package cabinet
