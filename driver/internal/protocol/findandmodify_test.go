// SPDX-FileCopyrightText: 2014-2022 SAP SE
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindAndModify_BuildCommand_Delete(t *testing.T) {
	op := NewFindAndModifyOperation("coll", FindOneAndDelete, FindAndModifyOptions{Filter: NewDocument().Append("x", int32(1))}, NewSessionless())
	cmd := op.BuildCommand(ConnectionDescription{})
	_, hasRemove := cmd.Lookup("remove")
	require.True(t, hasRemove)
	_, hasUpdate := cmd.Lookup("update")
	require.False(t, hasUpdate)
}

func TestFindAndModify_BuildCommand_UpdateWithUpsertAndReturnNew(t *testing.T) {
	returnNew := true
	upsert := true
	opts := FindAndModifyOptions{
		Filter:    NewDocument().Append("x", int32(1)),
		Update:    NewDocument().Append("$set", NewDocument().Append("y", int32(2))),
		ReturnNew: &returnNew,
		Upsert:    &upsert,
	}
	op := NewFindAndModifyOperation("coll", FindOneAndUpdate, opts, NewSessionless())
	cmd := op.BuildCommand(ConnectionDescription{})
	newVal, _ := cmd.Lookup("new")
	require.Equal(t, true, newVal)
	upsertVal, _ := cmd.Lookup("upsert")
	require.Equal(t, true, upsertVal)
}

func TestFindAndModify_WriteConcernElidedInTransaction(t *testing.T) {
	session := NewSession()
	session.SetInTransaction(true)
	opts := FindAndModifyOptions{WriteConcern: &WriteConcern{W: "majority"}}
	op := NewFindAndModifyOperation("coll", FindOneAndUpdate, opts, session)
	cmd := op.BuildCommand(ConnectionDescription{})
	require.False(t, cmd.Has("writeConcern"))
}
