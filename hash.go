package dphash

import (
	"hash/crc32"
	"math/rand"
	"unsafe"
)

// HashFunc computes a table index hash for a key. It must be stateless and
// safe to call concurrently from any number of goroutines; both tables
// treat it as a pure function of the key's bytes.
type HashFunc[K comparable] func(key K) uint32

// crc32Table is shared by every CRC-backed hasher produced by
// defaultHash; building it once avoids paying the table-generation cost
// per table instance.
var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// defaultHash returns the hash function a table uses when constructed
// without an explicit HashFunc.
//
// For the fixed-width integer kinds (the common case for dataplane lookup
// keys: flow identifiers, VNIs, indices) it hashes the key's raw bytes
// directly with CRC-32C: an int has no pointer indirection, so its bytes
// are its value. For every other comparable kind - most importantly
// string, and any struct or array that embeds one - hashing raw bytes
// would hash a string's (pointer, length) header rather than its
// contents, so those fall back to Go's own built-in map hash function,
// obtained the same way this family of concurrent maps does: build a
// throwaway map[K]struct{} and read the hash function pointer out of its
// runtime type descriptor (builtinHasher/iTypeOf below).
func defaultHash[K comparable]() HashFunc[K] {
	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return func(key K) uint32 {
			return crc32Bytes(unsafe.Pointer(&key), unsafe.Sizeof(key))
		}
	case uint64, int64:
		return func(key K) uint32 {
			return crc32Bytes(unsafe.Pointer(&key), unsafe.Sizeof(key))
		}
	case uint32, int32:
		return func(key K) uint32 {
			return crc32Bytes(unsafe.Pointer(&key), unsafe.Sizeof(key))
		}
	case uint16, int16:
		return func(key K) uint32 {
			return crc32Bytes(unsafe.Pointer(&key), unsafe.Sizeof(key))
		}
	case uint8, int8:
		return func(key K) uint32 {
			return crc32Bytes(unsafe.Pointer(&key), unsafe.Sizeof(key))
		}
	default:
		hasher := builtinHasher[K]()
		seed := uintptr(rand.Uint64())
		return func(key K) uint32 {
			h := hasher(unsafe.Pointer(&key), seed)
			return uint32(h) ^ uint32(h>>32)
		}
	}
}

func crc32Bytes(p unsafe.Pointer, size uintptr) uint32 {
	b := unsafe.Slice((*byte)(p), size)
	return crc32.Checksum(b, crc32Table)
}

// builtinHashFunc matches the shape of Go's internal map hash functions:
// (pointer to key, seed) -> hash.
type builtinHashFunc func(unsafe.Pointer, uintptr) uintptr

// builtinHasher obtains Go's built-in hash function for K by building a
// throwaway map[K]struct{} and reading the Hasher field out of its runtime
// type descriptor. This relies on the internal layout of runtime/internal
// abi's Type and MapType (mirrored below as iType/iMapType); it must be
// re-checked against each Go version's runtime type layout.
func builtinHasher[K comparable]() builtinHashFunc {
	var m map[K]struct{}
	return iTypeOf(m).MapType().Hasher
}

type iTFlag uint8
type iKind uint8
type iNameOff int32
type iTypeOff int32

// iType mirrors the leading, stable fields of runtime's internal abi.Type.
type iType struct {
	Size_       uintptr
	PtrBytes    uintptr
	Hash        uint32
	TFlag       iTFlag
	Align_      uint8
	FieldAlign_ uint8
	Kind_       iKind
	Equal       func(unsafe.Pointer, unsafe.Pointer) bool
	GCData      *byte
	Str         iNameOff
	PtrToThis   iTypeOff
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

// iMapType mirrors runtime's internal abi.MapType, which appends the
// key/elem/group types and the hash function to iType's fields.
type iMapType struct {
	iType
	Key    *iType
	Elem   *iType
	Group  *iType
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

// noescape hides a pointer from escape analysis. It is the identity
// function; escape analysis just can't see through it.
//
//go:nosplit
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
