// Package values has helpers for making pointers out of literals.
package values

import "time"

// ToUintPointer returns a pointer to the uint value passed in.
func ToUintPointer(v uint) *uint { return &v }

// ToUint16Pointer returns a pointer to the uint16 value passed in.
func ToUint16Pointer(v uint16) *uint16 { return &v }

// ToUint32Pointer returns a pointer to the uint32 value passed in.
func ToUint32Pointer(v uint32) *uint32 { return &v }

// ToUint64Pointer returns a pointer to the uint64 value passed in.
func ToUint64Pointer(v uint64) *uint64 { return &v }

// ToInt64Pointer returns a pointer to the int64 value passed in.
func ToInt64Pointer(v int64) *int64 { return &v }

// ToBoolPointer returns a pointer to the bool value passed in.
func ToBoolPointer(v bool) *bool { return &v }

// ToStringPointer returns a pointer to the string value passed in.
func ToStringPointer(v string) *string { return &v }

// ToDurationPointer returns a pointer to the time.Duration value passed in.
func ToDurationPointer(v time.Duration) *time.Duration { return &v }
