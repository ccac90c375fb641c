package pkg

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// TitleKey is an unwrapped AES-128 content key.
type TitleKey [16]byte

// CryptographicMethod selects the key schedule of a platform.
type CryptographicMethod int

const (
	// MethodWii is the scheme of the Wii and the Wii U's virtual Wii.
	MethodWii CryptographicMethod = iota

	// MethodDSi is the scheme of DSiWare exports.
	MethodDSi
)

// Common keys burned into the consoles. Indexes above the known set have no
// key and fail the unwrap rather than falling back to anything.
var (
	wiiCommonKeys = [][16]byte{
		{0xeb, 0xe4, 0x2a, 0x22, 0x5e, 0x85, 0x93, 0xe4, 0x48, 0xd9, 0xc5, 0x45, 0x73, 0x81, 0xaa, 0xf7},
		{0x63, 0xb8, 0x2b, 0xb4, 0xf4, 0x61, 0x4e, 0x2e, 0x13, 0xf2, 0xfe, 0xfb, 0xba, 0x4c, 0x9b, 0x7e},
		{0x30, 0xbf, 0xc7, 0x6e, 0x7c, 0x19, 0xaf, 0xbb, 0x23, 0x16, 0x33, 0x30, 0xce, 0xd7, 0xc2, 0x8d},
	}

	dsiCommonKey = [16]byte{0xaf, 0x1b, 0xf5, 0x16, 0xa8, 0x07, 0xd2, 0x1a, 0xea, 0x45, 0x98, 0x4f, 0x04, 0x74, 0x28, 0x61}
)

func (m CryptographicMethod) commonKey(index uint8) ([16]byte, error) {
	switch m {
	case MethodWii:
		if int(index) >= len(wiiCommonKeys) {
			return [16]byte{}, fmt.Errorf("%w: common key index %d", ErrKeyMaterial, index)
		}
		return wiiCommonKeys[index], nil

	case MethodDSi:
		if index != 0 {
			return [16]byte{}, fmt.Errorf("%w: common key index %d", ErrKeyMaterial, index)
		}
		return dsiCommonKey, nil
	}
	return [16]byte{}, fmt.Errorf("%w: unknown cryptographic method %d", ErrKeyMaterial, int(m))
}

// titleKeyIV is the IV of the title key wrap: the ticket ID on device
// unique tickets, the title ID otherwise, padded with zeros.
func (t *Ticket) titleKeyIV() [16]byte {
	id := uint64(t.TitleID)
	if t.IsDeviceUnique() {
		id = t.TicketID
	}

	var iv [16]byte
	binary.BigEndian.PutUint64(iv[:8], id)
	return iv
}

// DecryptTitleKey unwraps the content key carried by the ticket.
func (t *Ticket) DecryptTitleKey(method CryptographicMethod) (TitleKey, error) {
	common, err := method.commonKey(t.CommonKeyIndex)
	if err != nil {
		return TitleKey{}, err
	}

	block, err := aes.NewCipher(common[:])
	if err != nil {
		return TitleKey{}, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}

	iv := t.titleKeyIV()
	var key TitleKey
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(key[:], t.EncryptedTitleKey[:])
	return key, nil
}

// SetTitleKey wraps a plaintext content key and stores it in the ticket.
// The IV depends on the ticket and title IDs, so set those first.
func (t *Ticket) SetTitleKey(method CryptographicMethod, key TitleKey) error {
	common, err := method.commonKey(t.CommonKeyIndex)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(common[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}

	iv := t.titleKeyIV()
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(t.EncryptedTitleKey[:], key[:])
	return nil
}

// KeyDeriver produces fresh title keys from device trust material. The
// derivation algorithms live outside this module; the engine only consumes
// the result.
type KeyDeriver interface {
	DeriveKey(region WiiRegion, platformVersion uint16, deviceID uint32) (TitleKey, error)
}

// PopulateTitleKey derives a title key for the ticket's device and wraps it
// into the encrypted title key field. Derivation failures surface as
// ErrKeyMaterial.
func (t *Ticket) PopulateTitleKey(method CryptographicMethod, deriver KeyDeriver, region WiiRegion, platformVersion uint16) error {
	key, err := deriver.DeriveKey(region, platformVersion, t.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: key derivation: %v", ErrKeyMaterial, err)
	}
	return t.SetTitleKey(method, key)
}

// contentIV is the CBC IV of one content: its index followed by zeros.
func contentIV(index uint16) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint16(iv[:2], index)
	return iv
}

// contentDecrypter builds the CBC mode for reading one content.
func contentDecrypter(key TitleKey, index uint16) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	iv := contentIV(index)
	return cipher.NewCBCDecrypter(block, iv[:]), nil
}

// encryptContent encrypts a whole plaintext content in memory, zero padding
// it to the cipher block size.
func encryptContent(key TitleKey, index uint16, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}

	padded := make([]byte, alignUp(uint64(len(plaintext)), uint64(block.BlockSize())))
	copy(padded, plaintext)

	iv := contentIV(index)
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(padded, padded)
	return padded, nil
}
