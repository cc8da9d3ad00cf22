/*

Capability credentials. Authorization is proven by opaque credential values
minted by the vault itself and verified at the API boundary; business logic
below the boundary never inspects them. The admin credential is issued once
at construction; operator credentials are granted and revoked by the admin.

*/

package vault

import (
	errorsmod "cosmossdk.io/errors"
)

// AdminCredential gates configuration changes, asset registration/extraction,
// force-abort, and epoch force-close.
type AdminCredential struct {
	vaultID uint64
	holder  string
}

// Holder returns the identity the credential was minted for.
func (c AdminCredential) Holder() string { return c.holder }

// OperatorCredential gates the operation lifecycle and value updates.
type OperatorCredential struct {
	vaultID uint64
	holder  string
}

// Holder returns the identity the credential was minted for.
func (c OperatorCredential) Holder() string { return c.holder }

// GrantOperator mints an operator credential for holder. Admin-gated.
func (v *Vault) GrantOperator(admin AdminCredential, holder string) (OperatorCredential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return OperatorCredential{}, err
	}
	if holder == "" {
		return OperatorCredential{}, errorsmod.Wrap(ErrUnauthorized, "operator holder cannot be empty")
	}

	v.operators[holder] = true
	v.logger.Info().Str("holder", holder).Msg("Operator credential granted")
	return OperatorCredential{vaultID: v.id, holder: holder}, nil
}

// RevokeOperator invalidates every credential minted for holder. A revoked
// operator cannot start operations or update values; an operation it already
// owns stays owned so it can still be ended and reconciled.
func (v *Vault) RevokeOperator(admin AdminCredential, holder string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}
	if !v.operators[holder] {
		return errorsmod.Wrapf(ErrUnauthorized, "holder %s is not an operator", holder)
	}

	delete(v.operators, holder)
	v.logger.Warn().Str("holder", holder).Msg("Operator credential revoked")
	return nil
}

// verifyAdmin checks the admin credential against this vault. Callers hold the lock.
func (v *Vault) verifyAdmin(cred AdminCredential) error {
	if cred.vaultID != v.id || cred.holder == "" || cred.holder != v.adminHolder {
		return errorsmod.Wrap(ErrUnauthorized, "admin credential does not match this vault")
	}
	return nil
}

// verifyOperator checks the operator credential against this vault's granted
// set. Callers hold the lock.
func (v *Vault) verifyOperator(cred OperatorCredential) error {
	if cred.vaultID != v.id || cred.holder == "" || !v.operators[cred.holder] {
		return errorsmod.Wrap(ErrUnauthorized, "operator credential does not match this vault")
	}
	return nil
}

// verifyOperationOwner requires that cred owns the active operation record.
// Ownership survives revocation so a mid-flight operation can still be ended
// and reconciled. Callers hold the lock and have checked v.op != nil.
func (v *Vault) verifyOperationOwner(cred OperatorCredential) error {
	if cred.vaultID != v.id || cred.holder == "" {
		return errorsmod.Wrap(ErrUnauthorized, "operator credential does not match this vault")
	}
	if v.op.operator != cred.holder {
		return errorsmod.Wrapf(ErrUnauthorized,
			"operation %d is owned by %s, not %s", v.op.id, v.op.operator, cred.holder)
	}
	return nil
}
