package services

// SetBeforeRegister injeta um gancho entre a validação e o registro da transação.
func SetBeforeRegister(s *TransactionService, fn func()) {
	s.beforeRegister = fn
}
