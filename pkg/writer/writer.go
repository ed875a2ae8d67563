package writer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shouni/go-forecast-scraper/pkg/types"
)

// PersistenceError は出力ファイルの書き込みに失敗したことを表します。
// 書き込みは一時ファイル経由で行うため、このエラーが返った場合も既存のファイルは壊れません。
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ファイルの書き込みに失敗しました (%s %s): %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// CSVOptions は区切り文字と改行コードの指定です。
type CSVOptions struct {
	Delimiter rune
	CRLF      bool
}

// WriteRecords はヘッダー行とレコードを区切り文字付きテキストとして path に書き込みます。
// レコードが空の場合もヘッダーのみのファイルを作成します。
func WriteRecords(path string, header []string, records []types.Record, opts CSVOptions) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = opts.Delimiter
	w.UseCRLF = opts.CRLF

	if err := w.Write(header); err != nil {
		return &PersistenceError{Path: path, Op: "encode", Err: err}
	}
	for i, r := range records {
		if len(r.Values) != len(header) {
			return &PersistenceError{
				Path: path,
				Op:   "encode",
				Err:  fmt.Errorf("レコード[%d] の列数 %d がヘッダーの列数 %d と一致しません", i, len(r.Values), len(header)),
			}
		}
		if err := w.Write(r.Values); err != nil {
			return &PersistenceError{Path: path, Op: "encode", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &PersistenceError{Path: path, Op: "encode", Err: err}
	}

	return atomicWrite(path, buf.Bytes())
}

// ReadRecords は WriteRecords で書き込んだファイルを読み戻し、ヘッダーとレコードを返します。
func ReadRecords(path string, opts CSVOptions) ([]string, []types.Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("出力ファイルを開けません: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.Comma = opts.Delimiter
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("出力ファイルの解析に失敗しました (%s): %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("ヘッダー行がありません: %s", path)
	}

	records := make([]types.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		records = append(records, types.Record{Values: row})
	}
	return rows[0], records, nil
}

// WriteFailureLog は失敗したページのURLをインデント付きJSON配列として書き込みます。
// 失敗が1件もない場合は何もせず、既存のファイルにも触れません。
func WriteFailureLog(path string, failures types.FailureLog) error {
	if len(failures) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(failures.URLs()); err != nil {
		return &PersistenceError{Path: path, Op: "encode", Err: err}
	}
	return atomicWrite(path, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// WriteRaw は data をそのまま path に書き込みます (デバッグ用HTMLの保存など)。
func WriteRaw(path string, data []byte) error {
	return atomicWrite(path, data)
}

// atomicWrite は同じディレクトリの一時ファイルに書き込んでから rename で置き換えます。
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: path, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return &PersistenceError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &PersistenceError{Path: path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Path: path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return nil
}
