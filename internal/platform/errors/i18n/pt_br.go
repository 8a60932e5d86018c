package i18n

var ptBRMessages = map[Code]string{
	"UNKNOWN": "Ocorreu um erro inesperado.",

	"INVALID_PAYLOAD":      "Não foi possível ler a autorização de pagamento.",
	"PAYLOAD_EXPIRED":      "A autorização de pagamento expirou.",
	"WRONG_NETWORK":        "A autorização de pagamento é para outra rede.",
	"INVALID_SIGNATURE":    "A assinatura da autorização de pagamento é inválida.",
	"PAYLOAD_REPLAYED":     "A autorização de pagamento já foi utilizada.",
	"INSUFFICIENT_AMOUNT":  "O valor autorizado é menor que o necessário.",
	"WRONG_RECIPIENT":      "A autorização de pagamento é para outro destinatário.",
	"WRONG_TOKEN":          "A autorização de pagamento usa outro token.",
	"FACILITATOR_REJECTED": "O serviço de liquidação recusou a autorização de pagamento.",
	"FACILITATOR_ERROR":    "Não foi possível contatar o serviço de liquidação.",

	"SERVICE_NOT_READY":       "Os pagamentos ainda não estão disponíveis.",
	"SERVICE_LOCKED_DOWN":     "Os pagamentos foram suspensos após falhas repetidas.",
	"MATCH_ALREADY_PROCESSED": "O evento {{.event_id}} já está sendo processado.",
	"HOURLY_LIMIT_REACHED":    "O limite de pagamentos por hora foi atingido.",
	"DAILY_LIMIT_REACHED":     "O limite diário de pagamentos foi atingido.",
	"WALLET_RATE_LIMITED":     "Esta carteira recebeu um pagamento há pouco tempo.",

	"MATCH_NOT_FOUND":  "O evento {{.event_id}} não foi encontrado.",
	"ALREADY_PAID":     "O evento {{.event_id}} já foi pago.",
	"ALREADY_REFUNDED": "O evento {{.event_id}} já foi reembolsado.",

	"TRANSACTION_FAILED": "A transferência falhou ou não foi confirmada a tempo.",
	"PARTIAL_REFUND":     "Apenas parte do reembolso do evento {{.event_id}} foi concluída.",
}
