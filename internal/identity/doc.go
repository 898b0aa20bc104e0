// Package identity holds the device's fixed credentials: its identifier,
// the EC private key and the certificate signing request generated for it
// at manufacture.
//
// The key and CSR ship embedded in the binary. A deployment can point
// device.key_file and device.csr_file at files on a secure partition
// instead; the two must then be supplied together.
//
// TLSConfig combines the fixed key with the backend-issued certificate pair
// into the client configuration used for the mutual-TLS broker connection.
package identity
