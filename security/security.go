// Package security implements the standard security handler: key
// derivation and per-object encryption for RC4 (40/128-bit) and AES-128
// documents, read-side support for AES-256 (R5/R6), and the write-side
// construction of Encrypt dictionaries.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"pdfbatch/ir"
)

var (
	ErrWrongPassword = errors.New("security: wrong password")
	ErrUnsupported   = errors.New("security: unsupported encryption")
)

// DataClass identifies the kind of payload being crypted; strings and
// streams can be bound to different crypt filters.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	// Algorithm reports the handler scheme as one of "rc4-40",
	// "rc4-128", "aes-128", "aes-256".
	Algorithm() string
	PermissionsValue() int32
	EncryptMetadata() bool
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
	algoAES256
)

// HandlerBuilder assembles a Handler from a parsed Encrypt dictionary
// and the trailer it came with.
type HandlerBuilder struct {
	encryptDict *ir.Dict
	fileID      []byte
}

func NewHandlerBuilder() *HandlerBuilder { return &HandlerBuilder{} }

func (b *HandlerBuilder) WithEncryptDict(d *ir.Dict) *HandlerBuilder {
	b.encryptDict = d
	return b
}

func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder {
	b.fileID = id
	return b
}

func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return noEncryptionHandler{}, nil
	}
	dict := b.encryptDict
	if filter, ok := dict.Name("Filter"); ok && filter != "Standard" {
		return nil, fmt.Errorf("%w: filter %s", ErrUnsupported, filter)
	}
	v, _ := dict.Int("V")
	if v == 0 {
		v = 1
	}
	r, ok := dict.Int("R")
	if !ok {
		r = 2
	}
	if v > 5 || r > 6 {
		return nil, fmt.Errorf("%w: V=%d R=%d", ErrUnsupported, v, r)
	}
	keyBits := int64(40)
	if v >= 5 {
		keyBits = 256
	}
	if n, ok := dict.Int("Length"); ok && n > 0 {
		keyBits = n
	}
	if v >= 4 && keyBits < 128 {
		keyBits = 128
	}
	if keyBits%8 != 0 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupported, keyBits)
	}
	h := &standardHandler{
		v:          int(v),
		r:          int(r),
		lengthBits: int(keyBits),
		fileID:     b.fileID,
	}
	h.oEntry, _ = dict.String("O")
	h.uEntry, _ = dict.String("U")
	h.oe, _ = dict.String("OE")
	h.ue, _ = dict.String("UE")
	h.perms, _ = dict.String("Perms")
	if p, ok := dict.Int("P"); ok {
		h.p = int32(p)
	}
	h.encryptMeta = true
	if em, ok := dict.Bool("EncryptMetadata"); ok {
		h.encryptMeta = em
	}

	base := algoRC4
	if v == 4 {
		base = algoAES
	} else if v == 5 {
		base = algoAES256
	}
	filters, err := parseCryptFilters(dict, base)
	if err != nil {
		return nil, err
	}
	if h.streamAlgo, err = resolveCryptFilter(dict, "StmF", base, filters); err != nil {
		return nil, err
	}
	if h.stringAlgo, err = resolveCryptFilter(dict, "StrF", base, filters); err != nil {
		return nil, err
	}
	return h, nil
}

type standardHandler struct {
	key         []byte
	v           int
	r           int
	lengthBits  int
	oEntry      []byte
	uEntry      []byte
	oe          []byte
	ue          []byte
	perms       []byte
	p           int32
	fileID      []byte
	encryptMeta bool
	authed      bool
	streamAlgo  cryptAlgo
	stringAlgo  cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool       { return true }
func (h *standardHandler) EncryptMetadata() bool   { return h.encryptMeta }
func (h *standardHandler) PermissionsValue() int32 { return h.p }

func (h *standardHandler) Algorithm() string {
	switch {
	case h.r >= 5:
		return "aes-256"
	case h.streamAlgo == algoAES || h.v == 4:
		return "aes-128"
	case h.lengthBits >= 128:
		return "rc4-128"
	}
	return "rc4-40"
}

func (h *standardHandler) Authenticate(password string) error {
	if h.r >= 5 {
		if err := h.authenticateAES256([]byte(password)); err != nil {
			return err
		}
		h.authed = true
		return nil
	}
	keyLen := h.lengthBits / 8
	key := deriveKey([]byte(password), h.oEntry, h.p, h.fileID, keyLen, h.r, h.encryptMeta)
	if checkUserPassword(key, h.uEntry, h.fileID, h.r) {
		h.key = key
		h.authed = true
		return nil
	}
	// Not the user password; see whether it opens the document as the
	// owner by recovering the padded user password from /O.
	userPad, ok := recoverUserPassword([]byte(password), h.oEntry, h.lengthBits/8, h.r)
	if ok {
		key = deriveKey(userPad, h.oEntry, h.p, h.fileID, keyLen, h.r, h.encryptMeta)
		if checkUserPassword(key, h.uEntry, h.fileID, h.r) {
			h.key = key
			h.authed = true
			return nil
		}
	}
	return ErrWrongPassword
}

func (h *standardHandler) authenticateAES256(pwd []byte) error {
	if len(h.uEntry) >= 48 && len(h.ue) >= 32 {
		if key, ok := deriveAES256User(pwd, h.uEntry, h.ue, h.fileID); ok {
			h.key = key
			h.readEncryptedPerms()
			return nil
		}
	}
	if len(h.oEntry) >= 48 && len(h.oe) >= 32 && len(h.uEntry) >= 48 {
		if key, ok := deriveAES256Owner(pwd, h.oEntry, h.oe, h.uEntry); ok {
			h.key = key
			h.readEncryptedPerms()
			return nil
		}
	}
	return ErrWrongPassword
}

func (h *standardHandler) readEncryptedPerms() {
	if h.p != 0 || len(h.perms) != 16 || len(h.key) != 32 {
		return
	}
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return
	}
	out := make([]byte, 16)
	block.Decrypt(out, h.perms)
	if !bytes.Equal(out[9:12], []byte("adb")) {
		return
	}
	h.p = int32(binary.LittleEndian.Uint32(out[0:4]))
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	algo := h.algoFor(class)
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo != algoRC4)
	if algo == algoRC4 {
		return rc4Crypt(key, data)
	}
	return aesCrypt(key, data, false)
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	algo := h.algoFor(class)
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo != algoRC4)
	if algo == algoRC4 {
		return rc4Crypt(key, data)
	}
	return aesCrypt(key, data, true)
}

func (h *standardHandler) algoFor(class DataClass) cryptAlgo {
	algo := h.streamAlgo
	if class == DataClassString {
		algo = h.stringAlgo
	}
	if algo == algoUnset {
		if h.v >= 4 {
			return algoAES
		}
		return algoRC4
	}
	return algo
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool         { return false }
func (noEncryptionHandler) Authenticate(string) error { return nil }
func (noEncryptionHandler) Algorithm() string         { return "" }
func (noEncryptionHandler) PermissionsValue() int32   { return -4 }
func (noEncryptionHandler) EncryptMetadata() bool     { return false }
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// NoopHandler returns a pass-through handler for plaintext documents.
func NoopHandler() Handler { return noEncryptionHandler{} }

func parseCryptFilters(dict *ir.Dict, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cfObj, ok := dict.Get("CF")
	if !ok {
		return out, nil
	}
	cf, ok := cfObj.(*ir.Dict)
	if !ok {
		return nil, errors.New("security: /CF must be a dictionary")
	}
	for _, name := range cf.Keys() {
		entryObj, _ := cf.Get(name)
		entry, ok := entryObj.(*ir.Dict)
		if !ok {
			return nil, errors.New("security: crypt filter entry must be a dictionary")
		}
		algo := base
		if cfm, ok := entry.Name("CFM"); ok {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2":
				algo = algoAES
			case "AESV3":
				algo = algoAES256
			case "None":
				algo = algoNone
			default:
				return nil, fmt.Errorf("%w: crypt filter method %s", ErrUnsupported, cfm)
			}
		}
		out[string(name)] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict *ir.Dict, key ir.Name, base cryptAlgo, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name, ok := dict.Name(key)
	if !ok || name == "" {
		if algo, have := filters["StdCF"]; have {
			return algo, nil
		}
		return base, nil
	}
	if name == "Identity" {
		return algoNone, nil
	}
	if algo, have := filters[string(name)]; have {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("%w: crypt filter %s not defined", ErrUnsupported, name)
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// deriveKey computes the RC4/AES-128 file key (algorithm 2).
func deriveKey(pwd, owner []byte, pVal int32, fileID []byte, keyLenBytes, r int, encryptMeta bool) []byte {
	if keyLenBytes <= 0 {
		keyLenBytes = 5
	}
	if keyLenBytes > 16 {
		keyLenBytes = 16
	}
	data := make([]byte, 0, 64)
	data = append(data, padPassword(pwd)...)
	data = append(data, owner...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(pVal))
	data = append(data, pBuf[:]...)
	data = append(data, fileID...)
	if r >= 4 && !encryptMeta {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLenBytes])
			key = sum[:]
		}
	}
	return key[:keyLenBytes]
}

// computeOwnerEntry builds the /O value (algorithm 3).
func computeOwnerEntry(ownerPwd, userPwd []byte, keyLenBytes, r int) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLenBytes])
			key = sum[:]
		}
	}
	rc4Key := key[:keyLenBytes]
	out := rc4Simple(rc4Key, padPassword(userPwd))
	if r >= 3 {
		for i := 1; i <= 19; i++ {
			out = rc4Simple(xorKey(rc4Key, byte(i)), out)
		}
	}
	return out
}

// recoverUserPassword inverts computeOwnerEntry given the owner
// password, yielding the padded user password.
func recoverUserPassword(ownerPwd, oEntry []byte, keyLenBytes, r int) ([]byte, bool) {
	if len(oEntry) < 32 {
		return nil, false
	}
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLenBytes])
			key = sum[:]
		}
	}
	rc4Key := key[:keyLenBytes]
	out := append([]byte(nil), oEntry[:32]...)
	if r >= 3 {
		for i := 19; i >= 1; i-- {
			out = rc4Simple(xorKey(rc4Key, byte(i)), out)
		}
	}
	return rc4Simple(rc4Key, out), true
}

// computeUserEntry builds the /U value (algorithms 4 and 5).
func computeUserEntry(fileKey, fileID []byte, r int) []byte {
	if r <= 2 {
		return rc4Simple(fileKey, passwordPadding)
	}
	sum := md5.Sum(append(append([]byte{}, passwordPadding...), fileID...))
	val := rc4Simple(fileKey, sum[:])
	for i := 1; i <= 19; i++ {
		val = rc4Simple(xorKey(fileKey, byte(i)), val)
	}
	out := make([]byte, 32)
	copy(out, val)
	copy(out[16:], passwordPadding[:16])
	return out
}

func checkUserPassword(key, uEntry, fileID []byte, r int) bool {
	if len(uEntry) < 16 {
		return false
	}
	if r <= 2 {
		expect := rc4Simple(key, passwordPadding)
		return bytes.Equal(expect[:16], uEntry[:16])
	}
	sum := md5.Sum(append(append([]byte{}, passwordPadding...), fileID...))
	val := rc4Simple(key, sum[:])
	for i := 1; i <= 19; i++ {
		val = rc4Simple(xorKey(key, byte(i)), val)
	}
	return bytes.Equal(val[:16], uEntry[:16])
}

func xorKey(key []byte, x byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ x
	}
	return out
}

// rev6Hash is the iterative hash of ISO 32000-2 used by R6; a single
// SHA-256 round covers R5.
func rev6Hash(pwd, salt, extra []byte) []byte {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	sum := sha256.Sum256(append(append(append([]byte{}, pwd...), salt...), extra...))
	h := sum[:]
	for round := 0; ; round++ {
		block := make([]byte, 0, 64*(len(pwd)+len(h)+len(extra)))
		for i := 0; i < 64; i++ {
			block = append(block, pwd...)
			block = append(block, h...)
			block = append(block, extra...)
		}
		enc, err := aesCBCRaw(h[:16], h[16:32], block)
		if err != nil {
			return h
		}
		mod := 0
		for _, b := range enc[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(enc)
			h = s[:]
		case 1:
			s := sha512.Sum384(enc)
			h = s[:]
		default:
			s := sha512.Sum512(enc)
			h = s[:]
		}
		if round >= 63 && int(enc[len(enc)-1]) <= round-32 {
			break
		}
	}
	return h[:32]
}

func deriveAES256User(pwd, uEntry, ue, fileID []byte) ([]byte, bool) {
	validationSalt := uEntry[32:40]
	keySalt := uEntry[40:48]
	if !bytes.Equal(rev6Hash(pwd, validationSalt, nil)[:32], uEntry[:32]) {
		return nil, false
	}
	keyHash := rev6Hash(pwd, keySalt, nil)
	fileKey, err := aesCBCDecryptNoPad(keyHash[:32], ue[:32])
	if err != nil {
		return nil, false
	}
	_ = fileID
	return fileKey, true
}

func deriveAES256Owner(pwd, oEntry, oe, uEntry []byte) ([]byte, bool) {
	validationSalt := oEntry[32:40]
	keySalt := oEntry[40:48]
	if !bytes.Equal(rev6Hash(pwd, validationSalt, uEntry[:48])[:32], oEntry[:32]) {
		return nil, false
	}
	keyHash := rev6Hash(pwd, keySalt, uEntry[:48])
	fileKey, err := aesCBCDecryptNoPad(keyHash[:32], oe[:32])
	if err != nil {
		return nil, false
	}
	return fileKey, true
}

func objectKey(fileKey []byte, objNum, gen, r int, useAES bool) []byte {
	if r >= 5 {
		return fileKey
	}
	key := append([]byte{}, fileKey...)
	key = append(key,
		byte(objNum), byte(objNum>>8), byte(objNum>>16),
		byte(gen), byte(gen>>8))
	if useAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	hash := md5.Sum(key)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return hash[:n]
}

func rc4Simple(key, data []byte) []byte {
	out := make([]byte, len(data))
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(out, data)
	return out
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesCrypt handles the PDF AES format: a random IV prefix on encrypt,
// CBC with PKCS#7 padding.
func aesCrypt(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		padLen := aes.BlockSize - len(data)%aes.BlockSize
		plain := append(append([]byte{}, data...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
		out := make([]byte, aes.BlockSize+len(plain))
		copy(out, iv)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
		return out, nil
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("security: aes ciphertext too short")
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("security: aes ciphertext not block aligned")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("security: invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

func aesCBCRaw(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("security: data not block aligned")
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecryptNoPad(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("security: data not block aligned")
	}
	out := make([]byte, len(data))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// Options selects the scheme when encrypting a document on write.
type Options struct {
	// Algorithm is "rc4-40", "rc4-128" or "aes-128".
	Algorithm     string
	UserPassword  string
	OwnerPassword string
	Permissions   int32
	FileID        []byte
}

// BuildStandardEncryption constructs the Encrypt dictionary and file key
// for the requested scheme.
func BuildStandardEncryption(opts Options) (*ir.Dict, []byte, error) {
	var v, r int64
	var keyLen int
	aesMode := false
	switch opts.Algorithm {
	case "", "rc4-40":
		v, r, keyLen = 1, 2, 5
	case "rc4-128":
		v, r, keyLen = 2, 3, 16
	case "aes-128":
		v, r, keyLen = 4, 4, 16
		aesMode = true
	case "aes-256":
		return nil, nil, fmt.Errorf("%w: aes-256 write", ErrUnsupported)
	default:
		return nil, nil, fmt.Errorf("%w: algorithm %q", ErrUnsupported, opts.Algorithm)
	}
	ownerPwd := opts.OwnerPassword
	if ownerPwd == "" {
		ownerPwd = opts.UserPassword
	}
	p := opts.Permissions
	if p == 0 {
		p = -4 // all permission bits granted
	}
	oEntry := computeOwnerEntry([]byte(ownerPwd), []byte(opts.UserPassword), keyLen, int(r))
	fileKey := deriveKey([]byte(opts.UserPassword), oEntry, p, opts.FileID, keyLen, int(r), true)
	uEntry := computeUserEntry(fileKey, opts.FileID, int(r))

	enc := ir.NewDict()
	enc.Set("Filter", ir.Name("Standard"))
	enc.Set("V", ir.Int(v))
	enc.Set("R", ir.Int(r))
	enc.Set("Length", ir.Int(int64(keyLen*8)))
	enc.Set("O", ir.String(oEntry))
	enc.Set("U", ir.String(uEntry))
	enc.Set("P", ir.Int(int64(p)))
	if aesMode {
		stdCF := ir.NewDict()
		stdCF.Set("CFM", ir.Name("AESV2"))
		stdCF.Set("AuthEvent", ir.Name("DocOpen"))
		stdCF.Set("Length", ir.Int(16))
		cf := ir.NewDict()
		cf.Set("StdCF", stdCF)
		enc.Set("CF", cf)
		enc.Set("StmF", ir.Name("StdCF"))
		enc.Set("StrF", ir.Name("StdCF"))
	}
	return enc, fileKey, nil
}

// NewFileID produces a fresh /ID half from random bytes.
func NewFileID() []byte {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		sum := md5.Sum([]byte("pdfbatch"))
		return sum[:]
	}
	return id
}
