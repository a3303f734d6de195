package zipstream

// CentralDirectory owns an ordered sequence of FileEntry (insertion order =
// on-disk order), the parsed EOCD, the archive's total file size, and the
// byte position immediately after the last parsed CD entry (spec.md
// section 3). It is created once by Unzipper.ReadCentralDirectory and never
// mutated afterward; entries keep a pointer back to it so StreamEntry can
// identity-check that a record belongs to the currently-loaded directory.
type CentralDirectory struct {
	entries  []*FileEntry
	eocd     *EOCD
	fileSize int64
	cdEndPos int64
	eocdPos  int64
}

// RecordCount returns the number of parsed entries.
func (cd *CentralDirectory) RecordCount() int { return len(cd.entries) }

// RecordAt returns the entry at index i in on-disk order.
func (cd *CentralDirectory) RecordAt(i int) (*FileEntry, error) {
	if i < 0 || i >= len(cd.entries) {
		return nil, newErrf(KindIndexOutOfBounds, "record index %d out of bounds (have %d records)", i, len(cd.entries))
	}
	return cd.entries[i], nil
}

// IndexForName performs an O(n) linear scan for an exact, case-sensitive
// name match, as spec.md section 4.3 requires.
func (cd *CentralDirectory) IndexForName(name string) (int, bool) {
	for i, e := range cd.entries {
		if e.Name() == name {
			return i, true
		}
	}
	return 0, false
}

// EnumerateRecords invokes fn(record, index) for each record in order,
// stopping early if fn returns true.
func (cd *CentralDirectory) EnumerateRecords(fn func(entry *FileEntry, index int) (stop bool)) {
	for i, e := range cd.entries {
		if fn(e, i) {
			return
		}
	}
}

// GlobalComment returns the EOCD's trailing comment, if present.
func (cd *CentralDirectory) GlobalComment() (string, bool) {
	return cd.eocd.Comment()
}

// FileSize is the total size in bytes of the archive this directory was
// parsed from.
func (cd *CentralDirectory) FileSize() int64 { return cd.fileSize }

// locateEOCD seeks to the end of the file and scans backward for the EOCD
// signature, per spec.md section 4.3 "Discovery". It returns the position
// of the signature itself.
func locateEOCD(r *binReader) (int64, error) {
	pos, found, err := r.scanForSignature(sigEOCD)
	if err != nil {
		return 0, wrapErr(KindInvalidArchive, err, "failed scanning for EOCD signature")
	}
	if !found {
		return 0, newErr(KindInvalidArchive, "EOCD signature not found within scan window")
	}
	return pos, nil
}

// readEOCD loads the EOCD record at the given position, per spec.md
// section 4.3 "Loading EOCD".
func readEOCD(r *binReader, eocdPos int64) (*EOCD, error) {
	if err := r.seek(eocdPos); err != nil {
		return nil, wrapErr(KindCannotReadCD, err, "failed seeking to EOCD")
	}
	sig, ok := r.readUint32()
	if !ok || sig != sigEOCD {
		return nil, newErr(KindCannotReadCD, "EOCD signature mismatch")
	}

	eocd := &EOCD{}
	var ok2 bool
	if eocd.diskNumber, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD disk_number")
	}
	if eocd.cdStartDisk, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD cd_start_disk")
	}
	if eocd.recordsOnDisk, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD records_on_disk")
	}
	if eocd.totalRecords, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD total_records")
	}
	if eocd.cdSize, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD cd_size")
	}
	if eocd.cdOffset, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD cd_offset")
	}
	commentSize, ok2 := r.readUint16()
	if !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on EOCD comment_size")
	}
	if commentSize > 0 {
		comment, ok3 := r.readBytes(int(commentSize))
		if !ok3 {
			return nil, newErr(KindCannotReadCD, "short read on EOCD comment")
		}
		eocd.comment = comment
	}
	return eocd, nil
}

// readCDEntries walks the Central Directory from cd_offset up to (not
// including) the EOCD position, parsing one entry at a time, per spec.md
// section 4.3 "Loading entries".
func readCDEntries(r *binReader, cd *CentralDirectory) error {
	if err := r.seek(int64(cd.eocd.cdOffset)); err != nil {
		return wrapErr(KindCannotReadCD, err, "failed seeking to central directory")
	}

	lastEnd := int64(cd.eocd.cdOffset)
	for {
		pos, err := r.pos()
		if err != nil {
			return wrapErr(KindCannotReadCD, err, "failed reading file position")
		}
		if pos >= cd.eocdPos {
			break
		}
		entry, err := readOneCDEntry(r)
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		entry.cd = cd
		cd.entries = append(cd.entries, entry)
		end, err := r.pos()
		if err != nil {
			return wrapErr(KindCannotReadCD, err, "failed reading file position")
		}
		lastEnd = end
	}
	cd.cdEndPos = lastEnd
	return nil
}

// readOneCDEntry parses a single Central Directory record, per spec.md
// section 6's "Central directory entry layout".
func readOneCDEntry(r *binReader) (*FileEntry, error) {
	sig, ok := r.readUint32()
	if !ok {
		return nil, newErr(KindCannotReadCD, "short read on CD entry signature")
	}
	if sig != sigCentralDirEntry {
		return nil, newErrf(KindCannotReadCD, "CD entry signature mismatch (got 0x%08x)", sig)
	}

	e := &FileEntry{}
	var ok2 bool
	fields := []*uint16{&e.versionMadeBy, &e.versionNeeded, &e.bitFlag, &e.compressionMethod, &e.dosTime, &e.dosDate}
	for _, f := range fields {
		if *f, ok2 = r.readUint16(); !ok2 {
			return nil, newErr(KindCannotReadCD, "short read on CD entry fixed fields")
		}
	}
	if e.crc32, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry crc32")
	}
	if e.compressedSize, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry compressed_size")
	}
	if e.uncompressedSize, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry uncompressed_size")
	}
	nameSize, ok2 := r.readUint16()
	if !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry name_size")
	}
	extraSize, ok2 := r.readUint16()
	if !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry extra_field_size")
	}
	commentSize, ok2 := r.readUint16()
	if !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry comment_size")
	}
	if e.diskStart, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry disk_start")
	}
	if e.internalAttrs, ok2 = r.readUint16(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry internal_attrs")
	}
	if e.externalAttrs, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry external_attrs")
	}
	if e.localHeaderOffset, ok2 = r.readUint32(); !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry local_header_offset")
	}

	if nameSize == 0 {
		return nil, newErr(KindCannotReadCD, "CD entry has zero-length name")
	}
	name, ok2 := r.readBytes(int(nameSize))
	if !ok2 {
		return nil, newErr(KindCannotReadCD, "short read on CD entry name")
	}
	e.name = name

	if extraSize > 0 && !r.skip(int64(extraSize)) {
		return nil, newErr(KindCannotReadCD, "short read skipping CD entry extra field")
	}

	if commentSize > 0 {
		comment, ok3 := r.readBytes(int(commentSize))
		if !ok3 {
			return nil, newErr(KindCannotReadCD, "short read on CD entry comment")
		}
		e.comment = comment
	}

	return e, nil
}

// validateCentralDirectory performs the cross-checks of spec.md section 4.3
// "Cross-validation", short-circuiting on the first failure in the order
// specified.
func validateCentralDirectory(cd *CentralDirectory) error {
	if cd.eocd.diskNumber != 0 {
		return newErr(KindMultipleDisksUnsupported, "archive spans multiple disks")
	}
	if len(cd.entries) == 0 {
		return newErr(KindCannotReadCD, "central directory has no entries")
	}
	if len(cd.entries) != int(cd.eocd.totalRecords) {
		return countMismatchErr(int(cd.eocd.totalRecords), len(cd.entries))
	}
	if cd.cdEndPos != cd.eocdPos {
		return newErrf(KindCDDoesNotCompleteWithEOCD,
			"central directory ends at %d, EOCD starts at %d", cd.cdEndPos, cd.eocdPos)
	}
	for _, e := range cd.entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}
