package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Session token ─────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrForbidden     ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrPaperNotFound   ErrCode = "PAPER_NOT_FOUND"
	ErrPaperInvalid    ErrCode = "PAPER_INVALID"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed   ErrCode = "SESSION_CLOSED"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrAttemptFrozen        ErrCode = "ATTEMPT_FROZEN"
	ErrAlreadySubmitting    ErrCode = "ALREADY_SUBMITTING"
	ErrSubmissionFailed     ErrCode = "SUBMISSION_FAILED"
	ErrUnknownAttempt       ErrCode = "UNKNOWN_ATTEMPT"
	ErrIncompleteDefinition ErrCode = "INCOMPLETE_DEFINITION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Session token ─────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token sesi diperlukan."
	case ErrTokenInvalid:
		return "Token sesi tidak valid atau telah kedaluwarsa."
	case ErrForbidden:
		return "Anda tidak memiliki akses ke sumber daya ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrPaperNotFound:
		return "Paket soal tidak ditemukan."
	case ErrPaperInvalid:
		return "Paket soal rusak atau tidak lengkap."
	case ErrSessionNotFound:
		return "Sesi pengerjaan tidak ditemukan atau sudah berakhir."
	case ErrSessionClosed:
		return "Sesi pengerjaan sudah ditutup."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrAttemptFrozen:
		return "Jawaban sudah dikumpulkan dan tidak dapat diubah."
	case ErrAlreadySubmitting:
		return "Pengumpulan jawaban sedang diproses."
	case ErrSubmissionFailed:
		return "Gagal mengumpulkan jawaban. Jawaban Anda tetap tersimpan, silakan coba lagi."
	case ErrUnknownAttempt:
		return "Hasil pengerjaan tidak ditemukan."
	case ErrIncompleteDefinition:
		return "Hasil pengerjaan tidak cocok dengan paket soal."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
