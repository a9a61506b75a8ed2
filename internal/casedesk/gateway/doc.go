/*
Package gateway is the single outbound path to the casedesk backend.

# Envelope

Every call is a POST of {action, data, token?} to one base URL. The backend
answers with

	{status, message?, msgKey?, data, token?: {value, ttl, username?}}

A status of 400 or above is an error whatever the HTTP status was. A token in
a successful envelope replaces the current credential.

# Sending

	client := gateway.NewClient(cfg.APIURL, credentials)
	resp, err := client.Send(ctx, "metadata.searchCaseByCaseId", map[string]any{"caseId": id})

Send attaches the credential held by the CredentialStore unless
WithCredential overrides it. Typed wrappers exist for every backend action;
they all go through Send.

# Errors

Every failure is an *Error carrying the status code and an i18n message key:

	var gerr *gateway.Error
	if errors.As(err, &gerr) && gerr.MessageKey == "error.token.expired" {
		// ...
	}

Transport failures are status 0 with KeyNetwork. Anything unexpected is
status 0 with KeyUnknown. Nothing is retried.

# Rotation

When an envelope carries a token the client writes it to the store and then
calls every function registered with OnRotate, in registration order:

	stop := client.OnRotate(func(ev gateway.CredentialRotated) {
		monitor.Restart(ev.ExpiresAt)
	})
	defer stop()

A ttl of zero falls back to the exp claim when the value is a JWT.
*/
package gateway
