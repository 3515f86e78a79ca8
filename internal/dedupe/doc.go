// Package dedupe suppresses repeated webhook deliveries within a time window.
//
// Messaging providers retry a webhook when they do not see a 2xx in time, so
// the same payload can arrive twice. The webhook handler claims a key built
// from the agent id and raw body; a key already claimed within the window is
// acknowledged without being routed again. Disabled unless
// webhook.dedupe_window is set.
package dedupe
