package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"megpoid.xyz/go/go-wad/pkg"
)

func checkFatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func methodFromName(name string) (pkg.CryptographicMethod, error) {
	switch name {
	case "wii":
		return pkg.MethodWii, nil
	case "dsi":
		return pkg.MethodDSi, nil
	}
	return 0, fmt.Errorf("unknown cryptographic method %q", name)
}

func main() {
	input := flag.String("i", "", "WAD file (required)")
	output := flag.String("o", "", "Directory to extract the decrypted contents")
	methodName := flag.String("m", "wii", "Cryptographic method: wii or dsi")

	flag.Parse()

	if *input == "" {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	method, err := methodFromName(*methodName)
	checkFatal(err)

	file, err := os.Open(*input)
	checkFatal(err)
	defer file.Close()

	wad, err := pkg.Open(file)
	checkFatal(err)

	ticket := wad.Ticket()
	metadata := wad.TitleMetadata()
	chain := wad.CertificateChain()

	fmt.Printf("Title:          %s (%s)\n", metadata.TitleID.ASCII(), metadata.TitleID.PlatformName())
	fmt.Printf("Title version:  %d\n", metadata.TitleVersion)
	fmt.Printf("System title:   %s\n", metadata.SystemTitleID.PlatformName())
	fmt.Printf("Platform:       %d\n", metadata.PlatformData.Platform())
	fmt.Printf("Ticket issuer:  %s\n", ticket.Header.Issuer)
	fmt.Printf("Certificates:   %d\n", len(chain.Certificates))
	fmt.Printf("Contents:       %d\n", len(metadata.Entries))

	for i := range metadata.Entries {
		entry := metadata.Entries[i]
		fmt.Printf("  %2d: id=%08x index=%d kind=%#04x size=%d\n",
			i, entry.ID, entry.Index, uint16(entry.Kind), entry.Size)
	}

	if *output == "" {
		return
	}

	checkFatal(os.MkdirAll(*output, 0o755))

	for i := range metadata.Entries {
		entry := metadata.Entries[i]

		view, err := wad.DecryptedContentView(ticket, metadata, method, metadata.SelectByPosition(i))
		checkFatal(err)

		name := filepath.Join(*output, fmt.Sprintf("%08x.app", entry.ID))
		out, err := os.Create(name)
		checkFatal(err)

		_, err = io.Copy(out, view)
		checkFatal(err)
		checkFatal(out.Close())

		fmt.Printf("extracted %s\n", name)
	}
}
