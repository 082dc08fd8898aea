// Package errors provides the structured error taxonomy shared by the kernel,
// its extensions and the script engine binding.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Every error that crosses the call boundary also carries a Class:
// a stable name the script side uses to pick an error constructor, plus an
// optional OS error Code such as "ENOENT".
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseOp, errors.KindOp).
//		Class("NotFound").
//		Detail("no such key %q", key).
//		Build()
//
// Or use convenience constructors for the kernel's own conditions:
//
//	err := errors.BadResourceID(rid)
//	err := errors.CallingConvention(opID, "op_sleep", true)
//
// Arbitrary Go errors are normalised with Classify before they reach a
// script, so every outcome carries a class:
//
//	classified := errors.Classify(os.ErrNotExist) // Class "NotFound"
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
