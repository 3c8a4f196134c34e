package constants

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

const (
	RouteHealthz    = "/healthz"
	RouteQueueStats = "/queue/stats"
	RouteWebSocket  = "/ws"
)

// Client-to-server message types.
const (
	MessageJoinQueue  = "join_queue"
	MessageLeaveQueue = "leave_queue"
)

// Server-to-client event names.
const (
	EventQueueJoined = "queue_joined"
	EventQueueLeft   = "queue_left"
	EventGoldReward  = "gold_reward"
	EventGameCreated = "game_created"
	EventAuthError   = "auth_error"
	EventQueueError  = "queue_error"
)

const (
	ErrorCodeMalformedToken     = "malformed_token"
	ErrorCodeUnknownKey         = "unknown_key"
	ErrorCodeBadSignature       = "bad_signature"
	ErrorCodeExpired            = "token_expired"
	ErrorCodeNotYetValid        = "token_not_yet_valid"
	ErrorCodeWrongAudience      = "wrong_audience"
	ErrorCodeWrongIssuer        = "wrong_issuer"
	ErrorCodeInvalidSubject     = "invalid_subject"
	ErrorCodeInvalidAuthTime    = "invalid_auth_time"
	ErrorCodeDuplicateEntry     = "duplicate_entry"
	ErrorCodeInvalidMode        = "invalid_mode"
	ErrorCodeInvalidMessage     = "invalid_message"
	ErrorCodeProfileUnavailable = "profile_unavailable"
	ErrorCodeSessionFailed      = "session_failed"
	ErrorCodeRateLimited        = "rate_limited"
	ErrorCodeMissingLeague      = "missing_league"
)

// Activity kinds recorded through LogQueueActivity.
const (
	ActivityJoin     = "queue_join"
	ActivityLeave    = "queue_leave"
	ActivityMatch    = "queue_match"
	ActivityRedirect = "queue_redirect"
	ActivityPractice = "practice_start"
)
