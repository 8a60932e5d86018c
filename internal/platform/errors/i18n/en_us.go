package i18n

// Message templates are keyed by the codes in internal/platform/errors. They
// render error metadata such as {{.event_id}}; metadata never carries secret
// material.
var enUSMessages = map[Code]string{
	"UNKNOWN": "An unexpected error occurred.",

	"INVALID_PAYLOAD":      "The payment authorization could not be read.",
	"PAYLOAD_EXPIRED":      "The payment authorization has expired.",
	"WRONG_NETWORK":        "The payment authorization targets a different network.",
	"INVALID_SIGNATURE":    "The payment authorization signature is not valid.",
	"PAYLOAD_REPLAYED":     "The payment authorization was already used.",
	"INSUFFICIENT_AMOUNT":  "The authorized amount is below what is required.",
	"WRONG_RECIPIENT":      "The payment authorization pays a different recipient.",
	"WRONG_TOKEN":          "The payment authorization uses a different token.",
	"FACILITATOR_REJECTED": "The settlement service rejected the payment authorization.",
	"FACILITATOR_ERROR":    "The settlement service could not be reached.",
	"SETTLEMENT_FAILED":    "The settlement service could not settle the payment.",
	"SETTLEMENT_ERROR":     "The settlement request could not be completed.",

	"SERVICE_NOT_READY":       "Payouts are not available yet.",
	"SERVICE_LOCKED_DOWN":     "Payouts are suspended after repeated failures.",
	"MATCH_ALREADY_PROCESSED": "Event {{.event_id}} is already being processed.",
	"INVALID_AMOUNT":          "The amount must be greater than zero.",
	"AMOUNT_EXCEEDS_LIMIT":    "The amount exceeds the per-transfer limit.",
	"HOURLY_LIMIT_REACHED":    "The hourly payout limit has been reached.",
	"DAILY_LIMIT_REACHED":     "The daily payout limit has been reached.",
	"WALLET_RATE_LIMITED":     "This wallet received a payout too recently.",
	"INVALID_REQUEST":         "The request is missing or repeats required fields.",
	"UNAUTHORIZED":            "The request is not authorized.",

	"MATCH_NOT_FOUND":         "Event {{.event_id}} was not found.",
	"ALREADY_PAID":            "Event {{.event_id}} has already been paid.",
	"ALREADY_REFUNDED":        "Event {{.event_id}} has already been refunded.",
	"PAYOUT_IN_FLIGHT":        "A transfer for event {{.event_id}} is still awaiting confirmation.",
	"PARTICIPANT_MISMATCH":    "The recipient did not take part in event {{.event_id}}.",
	"TOKEN_MISMATCH":          "The token does not match the wager of event {{.event_id}}.",
	"AMOUNT_MISMATCH":         "The amount does not match the wager of event {{.event_id}}.",
	"EVENT_STORE_UNAVAILABLE": "Event records are unavailable; try again later.",

	"INSUFFICIENT_BALANCE":      "The custodial account cannot cover this payout.",
	"INSUFFICIENT_SOL_FOR_FEES": "The custodial account cannot cover network fees.",
	"TRANSACTION_FAILED":        "The transfer failed or was not confirmed in time.",
	"PARTIAL_REFUND":            "Only part of the refund for event {{.event_id}} was completed.",

	"VAULT_INIT_FAILED": "The custodial key could not be loaded.",
	"NOT_READY":         "The custodial key is not loaded.",
}
