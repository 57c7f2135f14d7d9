package memory

// An Accessor serves byte reads and writes at physical addresses. CanRead
// and CanWrite tell if the access would be accepted now; Read and Write
// return an error when it is not.
type Accessor interface {
	CanRead(address uint64, length uint64) bool
	CanWrite(address uint64, length uint64) bool
	Read(address uint64, length uint64) ([]byte, error)
	Write(address uint64, data []byte) error
}
